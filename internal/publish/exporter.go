// Package publish exports artifact snapshots to object storage when a
// transition lands them in a state with a declared publish target.
//
// Export is post-commit and best-effort: the lineage ledger is the durable
// record, the export is a derived view. A failed export is logged and
// retried on the next matching transition, never surfaced to the caller
// that performed the transition.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/agentlegible/orchestrator/internal/bus"
	"github.com/agentlegible/orchestrator/internal/storage"
	"github.com/agentlegible/orchestrator/pkg/types"
)

const subscriberID = "publish-exporter"

// ExportDocument is the JSON payload written to object storage for one
// published artifact version.
type ExportDocument struct {
	ArtifactID string                 `json:"artifact_id"`
	Type       string                 `json:"type"`
	SchemaRef  string                 `json:"schema_ref"`
	State      string                 `json:"state"`
	Version    int64                  `json:"version"`
	Data       map[string]interface{} `json:"data"`
	Manifest   string                 `json:"manifest"`
	EventID    string                 `json:"event_id"`
	ExportedAt time.Time              `json:"exported_at"`
}

// Exporter consumes transition events from the bus and writes matching
// snapshots to object storage.
type Exporter struct {
	notifier *bus.Notifier
	store    storage.ObjectStorage
	timeout  time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewExporter creates an exporter over the given bus and storage.
func NewExporter(notifier *bus.Notifier, store storage.ObjectStorage, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(os.Stdout, "[publish] ", log.LstdFlags)
	}
	return &Exporter{
		notifier: notifier,
		store:    store,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// Start subscribes to transition events and begins exporting.
func (e *Exporter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	sub := e.notifier.Subscribe(subscriberID, []string{string(types.EventTransitioned)})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for notif := range sub.Ch {
			if err := e.Export(context.Background(), notif); err != nil {
				e.logger.Printf("export failed for artifact %s v%d: %v",
					notif.Event.ArtifactID, versionOf(notif), err)
			}
		}
	}()
}

// Stop unsubscribes and waits for in-flight exports to finish.
func (e *Exporter) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.notifier.Unsubscribe(subscriberID)
	e.wg.Wait()
}

// Export writes one notification's snapshot if its manifest declares a
// publish target for the artifact's new state.
func (e *Exporter) Export(ctx context.Context, notif bus.Notification) error {
	if notif.Manifest == nil || notif.Artifact == nil {
		return nil
	}
	target, ok := notif.Manifest.TargetFor(notif.Artifact.State)
	if !ok {
		return nil
	}

	doc := ExportDocument{
		ArtifactID: notif.Artifact.ID,
		Type:       notif.Artifact.Type,
		SchemaRef:  notif.Artifact.SchemaRef,
		State:      notif.Artifact.State,
		Version:    notif.Artifact.Version,
		Data:       notif.Artifact.Data,
		Manifest:   notif.Manifest.Name,
		EventID:    notif.Event.EventID,
		ExportedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("publish: failed to encode export document: %w", err)
	}
	compressed := snappy.Encode(nil, payload)

	key := ObjectKey(target.Prefix, doc.ArtifactID, doc.Version, payload)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.store.Put(ctx, key, compressed); err != nil {
		return err
	}

	e.logger.Printf("exported artifact %s v%d to %s (target=%s)",
		doc.ArtifactID, doc.Version, key, target.Name)
	return nil
}

// ObjectKey builds the storage key for an export: the target prefix, the
// artifact ID, and the version tagged with a content fingerprint so a
// re-export of identical content lands on the same key.
func ObjectKey(prefix, artifactID string, version int64, payload []byte) string {
	return fmt.Sprintf("%s/%s/v%d-%08x.json.sz",
		prefix, artifactID, version, murmur3.Sum32(payload))
}

// Decode decompresses and decodes a stored export document.
func Decode(compressed []byte) (*ExportDocument, error) {
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("publish: failed to decompress export: %w", err)
	}
	var doc ExportDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("publish: failed to decode export: %w", err)
	}
	return &doc, nil
}

func versionOf(notif bus.Notification) int64 {
	if notif.Artifact == nil {
		return 0
	}
	return notif.Artifact.Version
}

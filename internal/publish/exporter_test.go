package publish

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/agentlegible/orchestrator/internal/bus"
	"github.com/agentlegible/orchestrator/internal/storage"
	"github.com/agentlegible/orchestrator/pkg/types"
)

func publishedNotification() bus.Notification {
	return bus.Notification{
		Event: types.LineageEvent{
			EventID:    "01HTEST00000000000000000X",
			ArtifactID: "a1",
			EventType:  types.EventTransitioned,
			Timestamp:  time.Now().UTC(),
		},
		Artifact: &types.Artifact{
			ID:        "a1",
			Type:      "doc",
			SchemaRef: "s1",
			State:     "published",
			Version:   3,
			Data:      map[string]interface{}{"name": "final"},
		},
		Manifest: &types.Manifest{
			Name:          "m1",
			Version:       1,
			AllowedStates: []string{"draft", "approved", "published"},
			PublishTargets: []types.PublishTarget{
				{Name: "site", State: "published", Prefix: "exports/site"},
			},
		},
	}
}

func newExporter(t *testing.T) (*Exporter, *storage.LocalStorage, *bus.Notifier) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	notifier := bus.NewNotifier(16)
	return NewExporter(notifier, store, log.New(io.Discard, "", 0)), store, notifier
}

func TestExport(t *testing.T) {
	e, store, _ := newExporter(t)
	ctx := context.Background()

	if err := e.Export(ctx, publishedNotification()); err != nil {
		t.Fatalf("export: %v", err)
	}

	objects, err := store.List(ctx, "exports/site/a1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected one exported object, got %v", objects)
	}

	compressed, err := store.Get(ctx, objects[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	doc, err := Decode(compressed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ArtifactID != "a1" || doc.Version != 3 || doc.State != "published" {
		t.Errorf("decoded document = %+v", doc)
	}
	if doc.Data["name"] != "final" {
		t.Errorf("data did not survive the round trip: %+v", doc.Data)
	}
	if doc.Manifest != "m1" {
		t.Errorf("manifest = %q, want m1", doc.Manifest)
	}
}

func TestExport_NoTargetForState(t *testing.T) {
	e, store, _ := newExporter(t)
	ctx := context.Background()

	notif := publishedNotification()
	notif.Artifact.State = "approved"
	if err := e.Export(ctx, notif); err != nil {
		t.Fatalf("export: %v", err)
	}

	objects, _ := store.List(ctx, "exports")
	if len(objects) != 0 {
		t.Errorf("no target declared for approved, but found %v", objects)
	}
}

func TestExport_NoManifest(t *testing.T) {
	e, store, _ := newExporter(t)

	notif := publishedNotification()
	notif.Manifest = nil
	if err := e.Export(context.Background(), notif); err != nil {
		t.Fatalf("export: %v", err)
	}
	objects, _ := store.List(context.Background(), "exports")
	if len(objects) != 0 {
		t.Errorf("expected nothing exported, found %v", objects)
	}
}

func TestExporterConsumesFromBus(t *testing.T) {
	e, store, notifier := newExporter(t)
	e.Start()
	defer e.Stop()

	notif := publishedNotification()
	notifier.Publish(notif.Event, notif.Artifact, notif.Manifest)

	deadline := time.After(2 * time.Second)
	for {
		objects, err := store.List(context.Background(), "exports/site/a1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(objects) == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("exporter never wrote the object")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestObjectKeyIsContentAddressed(t *testing.T) {
	a := ObjectKey("exports/site", "a1", 3, []byte("same"))
	b := ObjectKey("exports/site", "a1", 3, []byte("same"))
	c := ObjectKey("exports/site", "a1", 3, []byte("different"))

	if a != b {
		t.Errorf("identical content produced different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different content produced the same key")
	}
}

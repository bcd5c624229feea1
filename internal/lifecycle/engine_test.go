package lifecycle

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	oerrors "github.com/agentlegible/orchestrator/internal/errors"
	"github.com/agentlegible/orchestrator/internal/policy"
	"github.com/agentlegible/orchestrator/internal/registry"
	"github.com/agentlegible/orchestrator/internal/schemacheck"
	"github.com/agentlegible/orchestrator/internal/store"
	"github.com/agentlegible/orchestrator/pkg/types"
)

func testSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"name"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
	}
}

func testManifest() *types.Manifest {
	return &types.Manifest{
		Name:          "m1",
		Version:       1,
		ArtifactTypes: []string{"doc"},
		AllowedStates: []string{"draft", "approved", "published"},
		Transitions: map[string][]string{
			"draft":    {"approved"},
			"approved": {"published", "draft"},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	schemas := registry.NewSchemaRegistry(s)
	manifests := registry.NewManifestRegistry(s)
	if err := schemas.Upsert(ctx, "s1", 1, testSchema()); err != nil {
		t.Fatalf("register schema: %v", err)
	}
	if err := manifests.Upsert(ctx, testManifest()); err != nil {
		t.Fatalf("register manifest: %v", err)
	}

	return New(Config{
		Store:     s,
		Manifests: manifests,
		Schemas:   schemas,
		Validator: schemacheck.NewValidator(),
		Policy:    policy.NewEngine(policy.DefaultGates()...),
		Logger:    log.New(io.Discard, "", 0),
	}), s
}

func createArtifact(t *testing.T, e *Engine, id string) *types.Artifact {
	t.Helper()
	a, err := e.Create(context.Background(), CreateRequest{
		ID:        id,
		Type:      "doc",
		SchemaRef: "s1",
		State:     "draft",
		Data:      map[string]interface{}{"name": "first"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return a
}

func TestCreate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a := createArtifact(t, e, "a1")
	if a.Version != 1 {
		t.Errorf("new artifact version = %d, want 1", a.Version)
	}
	if a.State != "draft" {
		t.Errorf("state = %q, want draft", a.State)
	}

	snaps, err := e.ListVersions(ctx, "a1")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Version != 1 {
		t.Errorf("expected exactly snapshot v1, got %+v", snaps)
	}

	events, err := e.ListEvents(ctx, "a1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != types.EventCreated {
		t.Fatalf("expected one created event, got %+v", events)
	}
	// No actor supplied: recorded as the default principal.
	if events[0].ActorType != types.ActorHuman || events[0].ActorID != "unknown" {
		t.Errorf("default actor not recorded: %+v", events[0])
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	e, _ := newTestEngine(t)
	createArtifact(t, e, "a1")

	_, err := e.Create(context.Background(), CreateRequest{
		ID: "a1", Type: "doc", SchemaRef: "s1", State: "draft",
		Data: map[string]interface{}{"name": "again"},
	})
	if oerrors.GetCode(err) != oerrors.CodeDuplicateArtifact {
		t.Fatalf("expected DUPLICATE_ARTIFACT, got %v", err)
	}
	if !oerrors.IsRetryable(err) {
		t.Error("conflicts should be marked retryable")
	}
}

func TestCreate_InvalidDataRefused(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, CreateRequest{
		ID: "a1", Type: "doc", SchemaRef: "s1", State: "draft",
		Data: map[string]interface{}{"size": float64(1)},
	})
	if oerrors.GetCategory(err) != oerrors.ErrCategoryValidation {
		t.Fatalf("expected VALIDATION, got %v", err)
	}

	// Refused creation leaves nothing behind.
	if _, err := e.Get(ctx, "a1"); oerrors.GetCode(err) != oerrors.CodeArtifactNotFound {
		t.Errorf("artifact should not exist after refused create: %v", err)
	}
}

func TestCreate_UnknownSchema(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Create(context.Background(), CreateRequest{
		ID: "a1", Type: "doc", SchemaRef: "missing", State: "draft",
		Data: map[string]interface{}{"name": "x"},
	})
	if oerrors.GetCode(err) != oerrors.CodeSchemaNotFound {
		t.Fatalf("expected SCHEMA_NOT_FOUND, got %v", err)
	}
}

func TestUpdateData_PersistsInvalidData(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	// Drop the required field. The update must still commit.
	a, err := e.UpdateData(ctx, "a1", map[string]interface{}{"size": float64(2)}, types.Actor{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("version = %d, want 2", a.Version)
	}

	result, err := e.Validate(ctx, "a1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.OK {
		t.Error("validation should fail for data missing the required field")
	}
	if result.Version != 2 {
		t.Errorf("validation reported version %d, want 2", result.Version)
	}

	// Validation is an observation: the head does not move.
	a, err = e.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("validate moved the version to %d", a.Version)
	}

	events, err := e.ListEvents(ctx, "a1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	wantTypes := []types.EventType{types.EventCreated, types.EventUpdated, types.EventValidated}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %+v", len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].EventType != want {
			t.Errorf("event[%d] = %s, want %s", i, events[i].EventType, want)
		}
	}
	// Validation outcomes are recorded by the system principal.
	last := events[len(events)-1]
	if last.ActorType != types.ActorSystem || last.ActorID != "validator" {
		t.Errorf("validated event actor = %s/%s, want system/validator", last.ActorType, last.ActorID)
	}
}

func TestTransition(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	a, err := e.Transition(ctx, "a1", "m1", "approved", types.Actor{})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if a.State != "approved" || a.Version != 2 {
		t.Errorf("after transition: state=%s version=%d, want approved v2", a.State, a.Version)
	}

	snaps, err := e.ListVersions(ctx, "a1")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(snaps) != 2 || snaps[1].State != "approved" {
		t.Errorf("expected snapshot v2 in approved, got %+v", snaps)
	}
}

func TestTransition_EdgeNotDeclared(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	_, err := e.Transition(ctx, "a1", "m1", "published", types.Actor{})
	if oerrors.GetCode(err) != oerrors.CodeTransitionNotAllowed {
		t.Fatalf("expected TRANSITION_NOT_ALLOWED, got %v", err)
	}

	// A denied transition leaves no trace.
	a, err := e.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Version != 1 || a.State != "draft" {
		t.Errorf("denied transition mutated the artifact: %+v", a)
	}
	events, _ := e.ListEvents(ctx, "a1")
	if len(events) != 1 {
		t.Errorf("denied transition appended events: %+v", events)
	}
}

func TestTransition_InvalidDataRefused(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	if _, err := e.UpdateData(ctx, "a1", map[string]interface{}{}, types.Actor{}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := e.Transition(ctx, "a1", "m1", "approved", types.Actor{})
	if oerrors.GetCategory(err) != oerrors.ErrCategoryValidation {
		t.Fatalf("expected VALIDATION, got %v", err)
	}

	a, _ := e.Get(ctx, "a1")
	if a.Version != 2 || a.State != "draft" {
		t.Errorf("refused transition mutated the artifact: %+v", a)
	}
}

func TestTransition_TypeNotGoverned(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	other := testManifest()
	other.Name = "m2"
	other.ArtifactTypes = []string{"image"}
	if err := registry.NewManifestRegistry(s).Upsert(ctx, other); err != nil {
		t.Fatalf("register manifest: %v", err)
	}

	_, err := e.Transition(ctx, "a1", "m2", "approved", types.Actor{})
	if oerrors.GetCode(err) != oerrors.CodeTypeNotGoverned {
		t.Fatalf("expected TYPE_NOT_GOVERNED, got %v", err)
	}
}

func TestTransition_AgentPermissions(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	m := testManifest()
	m.AgentPermissions = map[string][]string{"bot-1": {"update"}}
	if err := registry.NewManifestRegistry(s).Upsert(ctx, m); err != nil {
		t.Fatalf("register manifest: %v", err)
	}

	agent := types.Actor{Type: types.ActorAgent, ID: "bot-1"}
	_, err := e.Transition(ctx, "a1", "m1", "approved", agent)
	if oerrors.GetCode(err) != oerrors.CodeActorNotPermitted {
		t.Fatalf("expected ACTOR_NOT_PERMITTED, got %v", err)
	}

	human := types.Actor{Type: types.ActorHuman, ID: "alice"}
	if _, err := e.Transition(ctx, "a1", "m1", "approved", human); err != nil {
		t.Fatalf("human transition denied: %v", err)
	}
}

func TestRollback(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	if _, err := e.UpdateData(ctx, "a1", map[string]interface{}{"name": "second"}, types.Actor{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := e.Transition(ctx, "a1", "m1", "approved", types.Actor{}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	a, err := e.Rollback(ctx, "a1", 1, types.Actor{})
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	// Restored content moves forward as a new version; history is intact.
	if a.Version != 4 {
		t.Errorf("version after rollback = %d, want 4", a.Version)
	}
	if a.State != "draft" {
		t.Errorf("state after rollback = %q, want draft", a.State)
	}
	if a.Data["name"] != "first" {
		t.Errorf("data after rollback = %+v, want v1 content", a.Data)
	}

	snaps, err := e.ListVersions(ctx, "a1")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(snaps) != 4 {
		t.Fatalf("expected snapshots 1..4, got %d", len(snaps))
	}
	for i, snap := range snaps {
		if snap.Version != int64(i+1) {
			t.Errorf("snapshot[%d].Version = %d, history has a gap", i, snap.Version)
		}
	}

	events, _ := e.ListEvents(ctx, "a1")
	last := events[len(events)-1]
	if last.EventType != types.EventRolledBack {
		t.Fatalf("expected rolled_back event, got %s", last.EventType)
	}
	if tv, ok := last.Metadata["target_version"].(float64); !ok || int64(tv) != 1 {
		t.Errorf("rolled_back metadata = %+v, want target_version 1", last.Metadata)
	}
	if nv, ok := last.Metadata["new_version"].(float64); !ok || int64(nv) != 4 {
		t.Errorf("rolled_back metadata = %+v, want new_version 4", last.Metadata)
	}
}

func TestRollback_UnknownVersion(t *testing.T) {
	e, _ := newTestEngine(t)
	createArtifact(t, e, "a1")

	_, err := e.Rollback(context.Background(), "a1", 7, types.Actor{})
	if oerrors.GetCode(err) != oerrors.CodeVersionNotFound {
		t.Fatalf("expected VERSION_NOT_FOUND, got %v", err)
	}
}

func TestRollback_BadTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	createArtifact(t, e, "a1")

	_, err := e.Rollback(context.Background(), "a1", 0, types.Actor{})
	if oerrors.GetCategory(err) != oerrors.ErrCategoryMalformed {
		t.Fatalf("expected MALFORMED, got %v", err)
	}
}

func TestReadsOnUnknownArtifact(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.ListVersions(ctx, "ghost"); oerrors.GetCode(err) != oerrors.CodeArtifactNotFound {
		t.Errorf("list versions: expected ARTIFACT_NOT_FOUND, got %v", err)
	}
	if _, err := e.ListEvents(ctx, "ghost"); oerrors.GetCode(err) != oerrors.CodeArtifactNotFound {
		t.Errorf("list events: expected ARTIFACT_NOT_FOUND, got %v", err)
	}
	if _, err := e.Validate(ctx, "ghost"); oerrors.GetCode(err) != oerrors.CodeArtifactNotFound {
		t.Errorf("validate: expected ARTIFACT_NOT_FOUND, got %v", err)
	}
}

func TestInvalidActorRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	createArtifact(t, e, "a1")

	bad := types.Actor{Type: "robot", ID: "r2"}
	_, err := e.UpdateData(context.Background(), "a1", map[string]interface{}{"name": "x"}, bad)
	if oerrors.GetCategory(err) != oerrors.ErrCategoryMalformed {
		t.Fatalf("expected MALFORMED for unknown actor type, got %v", err)
	}
}

// captureSink records everything published after commit.
type captureSink struct {
	mu        sync.Mutex
	events    []types.LineageEvent
	manifests []*types.Manifest
}

func (c *captureSink) Publish(event types.LineageEvent, artifact *types.Artifact, manifest *types.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.manifests = append(c.manifests, manifest)
}

func TestSinkReceivesCommittedEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	sink := &captureSink{}
	e.sink = sink
	ctx := context.Background()

	createArtifact(t, e, "a1")
	if _, err := e.Transition(ctx, "a1", "m1", "approved", types.Actor{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	// A denied mutation publishes nothing.
	if _, err := e.Transition(ctx, "a1", "m1", "ghost", types.Actor{}); err == nil {
		t.Fatal("expected denial")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(sink.events))
	}
	if sink.manifests[0] != nil {
		t.Error("created event should carry no manifest")
	}
	if sink.manifests[1] == nil || sink.manifests[1].Name != "m1" {
		t.Error("transition event should carry the governing manifest")
	}
}

func TestConcurrentUpdates_GaplessHistory(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	createArtifact(t, e, "a1")

	const workers = 4
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for {
					_, err := e.UpdateData(ctx, "a1",
						map[string]interface{}{"name": "w"}, types.Actor{})
					if err == nil {
						break
					}
					if !oerrors.IsRetryable(err) {
						errs <- err
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("worker failed: %v", err)
	}

	const wantVersion = 1 + workers*perWorker
	a, err := e.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Version != wantVersion {
		t.Errorf("final version = %d, want %d", a.Version, wantVersion)
	}

	snaps, err := e.ListVersions(ctx, "a1")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(snaps) != wantVersion {
		t.Fatalf("expected %d snapshots, got %d", wantVersion, len(snaps))
	}
	for i, snap := range snaps {
		if snap.Version != int64(i+1) {
			t.Fatalf("snapshot[%d].Version = %d, history has a gap", i, snap.Version)
		}
	}

	events, err := e.ListEvents(ctx, "a1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != wantVersion {
		t.Errorf("expected %d events (1 created + %d updated), got %d",
			wantVersion, workers*perWorker, len(events))
	}
}

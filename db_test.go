package loreline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loreline-app/loreline/internal/testutil"
)

func openTestDB(t *testing.T, mutate func(*Config)) *DB {
	t.Helper()
	cfg := DefaultConfig("")
	cfg.Driver = DriverMemory
	if mutate != nil {
		mutate(&cfg)
	}
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDBAppliesLocallyAndQueues(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	project, err := db.CreateProject(ctx, "The Shattered Coast")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	hero, err := db.CreateElement(ctx, project.ID, CategoryCharacter, "Mara")
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	city, err := db.CreateElement(ctx, project.ID, CategoryLocation, "Veldt")
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	if _, err := db.AddRelationship(ctx, hero.ID, city.ID, RelLocatedIn); err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}
	if _, err := db.UpdateAnswer(ctx, hero.ID, "motivation", "revenge"); err != nil {
		t.Fatalf("UpdateAnswer: %v", err)
	}

	// Local reads see everything immediately, no remote configured.
	if got, ok := db.Store().GetElement(hero.ID); !ok || got.Answers["motivation"] != "revenge" {
		t.Errorf("local read = %+v, %v", got, ok)
	}
	if !db.Index().AreElementsRelated(hero.ID, city.ID) {
		t.Error("relationship not indexed")
	}

	// One queued operation per intent.
	if got := db.Queue().PendingCount(); got != 5 {
		t.Errorf("PendingCount = %d, want 5", got)
	}
}

func TestDBQueueSurvivesReopen(t *testing.T) {
	dir, _ := testutil.TempDataDir(t)
	cfg := DefaultConfig(dir)
	ctx := context.Background()

	db1, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db1.CreateProject(ctx, "world"); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db2.Close() }()

	if got := db2.Queue().PendingCount(); got != 1 {
		t.Errorf("PendingCount after reopen = %d, want 1", got)
	}
}

func TestDBDrainsToRemote(t *testing.T) {
	remote := newFakeRemote()
	db := openTestDB(t, func(c *Config) {
		c.RemoteClient = remote
		c.Network.StartOnline = true
		c.Sync.DrainInterval = 10 * time.Millisecond
		c.Sync.InitialBackoff = time.Millisecond
	})
	ctx := context.Background()

	project, err := db.CreateProject(ctx, "world")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := db.CreateElement(ctx, project.ID, CategoryCharacter, "Mara"); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		return db.Queue().PendingCount() == 0
	}, "queue not drained to remote")
	if remote.appliedCount() != 2 {
		t.Errorf("applied = %d, want 2", remote.appliedCount())
	}
	if stats := db.SyncStats(); stats.Confirmed != 2 {
		t.Errorf("Confirmed = %d, want 2", stats.Confirmed)
	}
}

func TestDBEncryptedQueueSurvivesReopen(t *testing.T) {
	dir, _ := testutil.TempDataDir(t)
	cfg := DefaultConfig(dir)
	cfg.Encryption = &EncryptionConfig{Enabled: true, KeyPassword: "correct horse"}
	ctx := context.Background()

	db1, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db1.CreateProject(ctx, "sealed world"); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Same password decrypts the persisted queue after restart: the key
	// salt is stored next to the records.
	db2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen with same password: %v", err)
	}
	defer func() { _ = db2.Close() }()
	if got := db2.Queue().PendingCount(); got != 1 {
		t.Errorf("PendingCount = %d, want 1", got)
	}
}

func TestDBRejectsWritesWhileDegraded(t *testing.T) {
	remote := newFakeRemote()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	db := openTestDB(t, func(c *Config) {
		c.Backend = backend
		c.RemoteClient = remote
		c.Network.StartOnline = true
		c.Sync.StorageFailureThreshold = 1
	})
	ctx := context.Background()

	backend.mu.Lock()
	backend.failDeletes = true
	backend.mu.Unlock()

	// The mutation itself succeeds; the acknowledge failure during the
	// prompt drain trips degraded mode.
	if _, err := db.CreateProject(ctx, "world"); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	_ = db.SyncNow(ctx)
	testutil.Eventually(t, 2*time.Second, func() bool {
		return db.SyncStats().Degraded
	}, "engine never entered degraded mode")

	if _, err := db.CreateProject(ctx, "another"); !errors.Is(err, ErrDegraded) {
		t.Errorf("CreateProject while degraded = %v, want ErrDegraded", err)
	}
}

func TestDBQueuedOperationCarriesAppliedTimestamp(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	project, err := db.CreateProject(ctx, "world")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	el, err := db.CreateElement(ctx, project.ID, CategoryCharacter, "Mara")
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}

	// The queued operation carries the timestamp the local apply stamped
	// on the entity, so the remote's last-write-wins comparison sees the
	// exact applied time rather than the enqueue time.
	byEntity := map[string]Operation{}
	for _, op := range db.Queue().Drain() {
		byEntity[op.EntityID] = op
	}
	if got := byEntity[project.ID].UpdatedAt; !got.Equal(project.UpdatedAt) {
		t.Errorf("project op UpdatedAt = %v, want %v", got, project.UpdatedAt)
	}
	if got := byEntity[el.ID].UpdatedAt; !got.Equal(el.UpdatedAt) {
		t.Errorf("element op UpdatedAt = %v, want %v", got, el.UpdatedAt)
	}
}

func TestDBCloseConcurrent(t *testing.T) {
	db := openTestDB(t, nil)

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = db.Close()
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Close[%d] = %v", i, err)
		}
	}
}

func TestDBRemoveRelationshipQueuesDelete(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	project, _ := db.CreateProject(ctx, "world")
	a, _ := db.CreateElement(ctx, project.ID, CategoryCharacter, "A")
	b, _ := db.CreateElement(ctx, project.ID, CategoryCharacter, "B")
	rel, err := db.AddRelationship(ctx, a.ID, b.ID, RelAllyOf)
	if err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}

	if err := db.RemoveRelationship(ctx, rel.ID); err != nil {
		t.Fatalf("RemoveRelationship: %v", err)
	}
	if db.Index().AreElementsRelated(a.ID, b.ID) {
		t.Error("relationship still indexed")
	}
	if err := db.RemoveRelationship(ctx, rel.ID); !errors.Is(err, ErrUnknownRelation) {
		t.Errorf("double remove = %v", err)
	}

	// All relationship operations order against the owning element.
	for _, op := range db.Queue().Drain() {
		if op.Kind == KindRelationship && op.EntityID != a.ID {
			t.Errorf("relationship op ordered on %q, want %q", op.EntityID, a.ID)
		}
	}
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

func TestFileStoreUpsertAndGet(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	acc := &model.Account{ID: "a1", Email: "a@example.com", Tier: model.TierPro, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := fs.Upsert(ctx, acc); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := fs.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Email != "a@example.com" || got.Tier != model.TierPro {
		t.Fatalf("Get() = %+v, want matching upserted account", got)
	}
}

func TestFileStoreGetMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	if _, err := fs.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFileStoreUpdateQuota(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()
	acc := &model.Account{ID: "a1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	fs.Upsert(ctx, acc)

	if err := fs.UpdateQuota(ctx, "a1", "gemini-pro", model.Quota{Used: 10, Limit: 100}); err != nil {
		t.Fatalf("UpdateQuota() error = %v", err)
	}

	got, _ := fs.Get(ctx, "a1")
	q, ok := got.Quotas["gemini-pro"]
	if !ok || q.Used != 10 || q.Limit != 100 {
		t.Fatalf("Quotas[gemini-pro] = %+v, ok=%v, want Used=10 Limit=100", q, ok)
	}
}

func TestFileStoreDeleteAndSetProxyDisabled(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()
	acc := &model.Account{ID: "a1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	fs.Upsert(ctx, acc)

	if err := fs.SetProxyDisabled(ctx, "a1", true); err != nil {
		t.Fatalf("SetProxyDisabled() error = %v", err)
	}
	got, _ := fs.Get(ctx, "a1")
	if !got.ProxyDisabled {
		t.Fatalf("ProxyDisabled = false, want true")
	}

	if err := fs.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := fs.Get(ctx, "a1"); err != ErrNotFound {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestFileStoreListReturnsAllAccounts(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()
	fs.Upsert(ctx, &model.Account{ID: "a1", CreatedAt: time.Now(), UpdatedAt: time.Now()})
	fs.Upsert(ctx, &model.Account{ID: "a2", CreatedAt: time.Now(), UpdatedAt: time.Now()})

	list, err := fs.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() returned %d accounts, want 2", len(list))
	}
}

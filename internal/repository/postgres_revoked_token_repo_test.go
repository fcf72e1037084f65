package repository

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPostgresRevokedTokenRepo_ImplementsInterface(t *testing.T) {
	var _ RevokedTokenRepository = (*PostgresRevokedTokenRepo)(nil)
}

func TestValidateRevocation(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	tests := []struct {
		name    string
		jti     string
		exp     time.Time
		wantErr bool
	}{
		{"正常", "abc", exp, false},
		{"jti空", "", exp, true},
		{"有効期限なし", "abc", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRevocation(tt.jti, tt.exp)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRevocation() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// 同じjtiを2回失効させても両方成功し、期限前のスイープでは削除されないことを検証
func TestPostgresRevokedTokenRepo_RevokeTwiceThenSweep(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresRevokedTokenRepo(db)
	ctx := context.Background()

	now := time.Now()
	exp := now.Add(time.Hour)

	for i := 0; i < 2; i++ {
		if err := repo.Revoke(ctx, "abc", exp); err != nil {
			t.Fatalf("Revoke #%d failed: %v", i+1, err)
		}
	}

	revoked, err := repo.IsRevoked(ctx, "abc")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti to be revoked")
	}

	n, err := repo.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("swept before expiry = %d, want 0", n)
	}

	n, err = repo.SweepExpired(ctx, exp.Add(time.Second))
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("swept after expiry = %d, want 1", n)
	}

	revoked, _ = repo.IsRevoked(ctx, "abc")
	if revoked {
		t.Error("スイープ後もjtiが残っている")
	}
}

func TestPostgresRevokedTokenRepo_ConcurrentRevoke(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresRevokedTokenRepo(db)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Revoke(ctx, "race-jti", exp)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("同時失効でエラーが返された: %v", err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM revoked_tokens WHERE jti = 'race-jti'`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

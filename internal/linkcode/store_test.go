package linkcode

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blackboxhq/blackbox-gw/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "links.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), db
}

func TestGenerateCode(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generateCode: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("code length = %d, want %d", len(code), CodeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains character outside alphabet", code)
			}
			if strings.ContainsRune("0O1I", c) {
				t.Fatalf("code %q contains ambiguous character", code)
			}
		}
		seen[code] = true
	}
	// 100 draws from a 32^6 space colliding down to a handful would mean a
	// broken generator.
	if len(seen) < 95 {
		t.Errorf("only %d distinct codes in 100 draws", len(seen))
	}
}

func TestIssueAndRedeem(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(issued.Code) != CodeLength {
		t.Errorf("code length = %d, want %d", len(issued.Code), CodeLength)
	}
	if until := time.Until(issued.ExpiresAt); until < 14*time.Minute || until > 16*time.Minute {
		t.Errorf("expiry %v not ~15m out", issued.ExpiresAt)
	}

	accountID, err := store.Redeem(ctx, issued.Code, ExternalIdentity{
		Provider: "slack",
		UserID:   "U12345",
		Username: "jdoe",
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if accountID != "account-1" {
		t.Errorf("Redeem account = %q, want account-1", accountID)
	}

	link, err := store.FindByExternal(ctx, "slack", "U12345")
	if err != nil {
		t.Fatalf("FindByExternal: %v", err)
	}
	if link.AccountID != "account-1" || link.ExternalUsername != "jdoe" {
		t.Errorf("unexpected link after redemption: %+v", link)
	}
	if link.LinkedAt == nil {
		t.Error("linked_at should be set after redemption")
	}
}

func TestRedeem_CaseInsensitive(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "account-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := store.Redeem(ctx, strings.ToLower(issued.Code), ExternalIdentity{
		Provider: "github", UserID: "99",
	}); err != nil {
		t.Fatalf("lowercase redemption should succeed: %v", err)
	}
}

func TestRedeem_SecondAttemptFails(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "account-1")
	if _, err := store.Redeem(ctx, issued.Code, ExternalIdentity{Provider: "slack", UserID: "U1"}); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}

	// The code was cleared on redemption, so a second attempt sees nothing.
	_, err := store.Redeem(ctx, issued.Code, ExternalIdentity{Provider: "slack", UserID: "U2"})
	if !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("second Redeem error = %v, want ErrCodeNotFound", err)
	}
}

func TestRedeem_Expired(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "account-1")

	// Move the store clock past the expiry.
	store.now = func() time.Time { return time.Now().Add(CodeTTL + time.Minute) }

	_, err := store.Redeem(ctx, issued.Code, ExternalIdentity{Provider: "slack", UserID: "U1"})
	if !errors.Is(err, ErrCodeExpired) {
		t.Errorf("Redeem after expiry error = %v, want ErrCodeExpired", err)
	}
}

func TestRedeem_UnknownCode(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	_, err := store.Redeem(context.Background(), "ZZZZZZ", ExternalIdentity{Provider: "slack", UserID: "U1"})
	if !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Redeem unknown code error = %v, want ErrCodeNotFound", err)
	}
}

func TestIssue_OverwritesPriorCode(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, "account-1")
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	second, err := store.Issue(ctx, "account-1")
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}
	if first.Code == second.Code {
		t.Fatal("re-issue should produce a different code")
	}

	// The first code was invalidated by the overwrite.
	if _, err := store.Redeem(ctx, first.Code, ExternalIdentity{Provider: "slack", UserID: "U1"}); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("stale code error = %v, want ErrCodeNotFound", err)
	}
	if _, err := store.Redeem(ctx, second.Code, ExternalIdentity{Provider: "slack", UserID: "U1"}); err != nil {
		t.Errorf("current code should redeem: %v", err)
	}
}

func TestRedeem_IdentityAlreadyLinked(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := store.Issue(ctx, "account-a")
	if _, err := store.Redeem(ctx, a.Code, ExternalIdentity{Provider: "github", UserID: "77"}); err != nil {
		t.Fatalf("Redeem for account-a: %v", err)
	}

	b, _ := store.Issue(ctx, "account-b")
	_, err := store.Redeem(ctx, b.Code, ExternalIdentity{Provider: "github", UserID: "77"})
	if !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("Redeem with taken identity error = %v, want ErrAlreadyLinked", err)
	}
}

func TestUnlink(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "account-1")
	if _, err := store.Redeem(ctx, issued.Code, ExternalIdentity{Provider: "slack", UserID: "U1"}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	if err := store.Unlink(ctx, "account-1", "slack"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	// The row is gone entirely, not soft-deleted.
	if _, err := store.FindByExternal(ctx, "slack", "U1"); !errors.Is(err, ErrNotLinked) {
		t.Errorf("FindByExternal after unlink error = %v, want ErrNotLinked", err)
	}

	if err := store.Unlink(ctx, "account-1", "slack"); !errors.Is(err, ErrNotLinked) {
		t.Errorf("second Unlink error = %v, want ErrNotLinked", err)
	}
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	st, err := store.GetStatus(ctx, "account-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(st.Linked) != 0 || st.Pending != nil {
		t.Errorf("fresh account status = %+v, want empty", st)
	}

	issued, _ := store.Issue(ctx, "account-1")
	st, err = store.GetStatus(ctx, "account-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Pending == nil || st.Pending.Code != issued.Code {
		t.Errorf("pending code not reported: %+v", st.Pending)
	}

	if _, err := store.Redeem(ctx, issued.Code, ExternalIdentity{Provider: "github", UserID: "42", Username: "octo"}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	st, err = store.GetStatus(ctx, "account-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(st.Linked) != 1 || st.Linked[0].Provider != "github" {
		t.Errorf("linked identities = %+v, want one github link", st.Linked)
	}
	if st.Pending != nil {
		t.Error("pending code should be cleared after redemption")
	}
}

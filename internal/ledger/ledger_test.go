package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"mixrelay/internal/models"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ldg, err := Open(filepath.Join(t.TempDir(), "relayer.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { ldg.Close() })
	return ldg
}

func testRecord(fingerprint string, status models.RelayStatus) *models.RelayRecord {
	now := time.Now().UTC()
	return &models.RelayRecord{
		Fingerprint: fingerprint,
		ChainID:     "5",
		Contract:    "0xabc0000000000000000000000000000000000001",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ldg := openTestLedger(t)

	nonce := uint64(42)
	record := testRecord("0xfp1", models.RelayStatusSubmitted)
	record.Nonce = &nonce
	record.TxHash = "0xdeadbeef"
	record.RetryCount = 3

	if err := ldg.Put(record); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := ldg.Get("0xfp1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("record not found after put")
	}
	if got.Status != models.RelayStatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", got.Status)
	}
	if got.Nonce == nil || *got.Nonce != 42 {
		t.Errorf("nonce = %v, want 42", got.Nonce)
	}
	if got.TxHash != "0xdeadbeef" {
		t.Errorf("tx hash = %s, want 0xdeadbeef", got.TxHash)
	}
	if got.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", got.RetryCount)
	}
}

func TestGetMissing(t *testing.T) {
	ldg := openTestLedger(t)

	got, err := ldg.Get("0xmissing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for a missing fingerprint")
	}
}

func TestPutRejectsEmptyFingerprint(t *testing.T) {
	ldg := openTestLedger(t)

	if err := ldg.Put(&models.RelayRecord{}); err == nil {
		t.Fatal("expected error for a record without a fingerprint")
	}
}

func TestPutOverwritesExisting(t *testing.T) {
	ldg := openTestLedger(t)

	record := testRecord("0xfp1", models.RelayStatusQueued)
	if err := ldg.Put(record); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	record.Status = models.RelayStatusConfirmed
	if err := ldg.Put(record); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := ldg.Get("0xfp1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.RelayStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", got.Status)
	}
}

func TestScanPendingSkipsTerminal(t *testing.T) {
	ldg := openTestLedger(t)

	records := []*models.RelayRecord{
		testRecord("0xfp1", models.RelayStatusQueued),
		testRecord("0xfp2", models.RelayStatusSubmitted),
		testRecord("0xfp3", models.RelayStatusConfirmed),
		testRecord("0xfp4", models.RelayStatusFailed),
		testRecord("0xfp5", models.RelayStatusRejected),
		testRecord("0xfp6", models.RelayStatusSigned),
	}
	for _, r := range records {
		if err := ldg.Put(r); err != nil {
			t.Fatalf("put %s failed: %v", r.Fingerprint, err)
		}
	}

	pending, err := ldg.ScanPending()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending count = %d, want 3", len(pending))
	}
	for _, r := range pending {
		if r.Status.Terminal() {
			t.Errorf("terminal record %s returned by ScanPending", r.Fingerprint)
		}
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayer.db")

	ldg, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := ldg.Put(testRecord("0xfp1", models.RelayStatusSigned)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := ldg.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("0xfp1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Status != models.RelayStatusSigned {
		t.Fatalf("record lost across reopen: %+v", got)
	}
}

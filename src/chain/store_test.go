package chain

import (
	"io/ioutil"
	"os"
	"testing"

	cm "github.com/chainmesh/chainmesh/src/common"
)

func TestInmemRecordStore(t *testing.T) {
	key := newTestKey(t)
	store := NewInmemRecordStore()

	record := chainedRecords(t, key, "a")[0]

	if store.HasRecord(record.Hex()) {
		t.Fatalf("store should not contain the record yet")
	}

	if _, err := store.GetRecord(record.Hex()); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}

	if err := store.SetRecord(record); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRecord(record.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equals(record) {
		t.Fatalf("retrieved record should equal stored record")
	}
}

func TestBadgerRecordStore(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "badger")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	key := newTestKey(t)
	records := chainedRecords(t, key, "a", "b", "c")

	store, err := NewBadgerRecordStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, r := range records {
		if err := store.SetRecord(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	//Reopen and check that everything survived
	store, err = NewBadgerRecordStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for _, r := range records {
		got, err := store.GetRecord(r.Hex())
		if err != nil {
			t.Fatalf("GetRecord(%s): %v", r.Hex(), err)
		}
		if !got.Equals(r) {
			t.Fatalf("retrieved record should equal stored record")
		}
	}

	if store.HasRecord("0XDEADBEEF") {
		t.Fatalf("store should not contain an unknown hash")
	}
}

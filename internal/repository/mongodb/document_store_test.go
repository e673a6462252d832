package mongodb

import (
	"testing"
	"time"

	"github.com/andresuchdata/shopledger/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestToDocumentIDs(t *testing.T) {
	doc, id := toDocument(store.Record{"id": "p1", "billNumber": "B1"})
	if id != "p1" || doc["_id"] != "p1" {
		t.Fatalf("expected caller id kept, got %q %v", id, doc["_id"])
	}
	if _, ok := doc["id"]; ok {
		t.Fatalf("id key must not be persisted")
	}

	doc, id = toDocument(store.Record{"billNumber": "B2"})
	oid, ok := doc["_id"].(primitive.ObjectID)
	if !ok || oid.Hex() != id {
		t.Fatalf("expected generated ObjectID, got %v / %q", doc["_id"], id)
	}
}

func TestToRecord(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := toRecord(bson.M{
		"_id":         oid,
		"totalAmount": int32(12),
		"billId":      nil,
		"createdAt":   primitive.NewDateTimeFromTime(at),
		"tags":        primitive.A{"a", bson.M{"k": "v"}},
	})

	if rec.ID() != oid.Hex() {
		t.Fatalf("expected hex id, got %q", rec.ID())
	}
	if rec["createdAt"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected date %v", rec["createdAt"])
	}
	tags, ok := rec["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("unexpected tags %#v", rec["tags"])
	}
	if _, ok := tags[1].(map[string]any); !ok {
		t.Fatalf("nested document not normalized: %#v", tags[1])
	}
	if v, present := rec["billId"]; !present || v != nil {
		t.Fatalf("null reference must survive, got %v", v)
	}
}

func TestIDFilter(t *testing.T) {
	if f := idFilter("p1"); f["_id"] != "p1" {
		t.Fatalf("unexpected filter %v", f)
	}
	hex := primitive.NewObjectID().Hex()
	in, ok := idFilter(hex)["_id"].(bson.M)
	if !ok || len(in["$in"].(bson.A)) != 2 {
		t.Fatalf("expected $in filter for hex ids, got %v", idFilter(hex))
	}
}

func TestChangeOp(t *testing.T) {
	cases := map[string]store.ChangeOp{
		"insert":  store.OpCreate,
		"update":  store.OpUpdate,
		"replace": store.OpUpdate,
		"delete":  store.OpDelete,
	}
	for in, want := range cases {
		if got, ok := changeOp(in); !ok || got != want {
			t.Fatalf("changeOp(%s) = %v,%v", in, got, ok)
		}
	}
	if _, ok := changeOp("invalidate"); ok {
		t.Fatalf("invalidate must be skipped")
	}
}

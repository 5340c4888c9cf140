package bulk

import (
	"encoding/json"
	"testing"

	"github.com/perrin/forcebulk/internal/codec"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		in      string
		want    OperationKind
		wantErr bool
	}{
		{"insert", OpInsert, false},
		{"INSERT", OpInsert, false},
		{"HardDelete", OpHardDelete, false},
		{"harddelete", OpHardDelete, false},
		{"queryall", OpQueryAll, false},
		{"QueryAll", OpQueryAll, false},
		{" upsert ", OpUpsert, false},
		{"merge", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseOperation(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseOperation(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOperation(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOperation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOneOrManyNormalization(t *testing.T) {
	var single batchInfoList
	if err := json.Unmarshal([]byte(`{"batchInfo":{"id":"751a","jobId":"750a","state":"Queued"}}`), &single); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(single.BatchInfo) != 1 || single.BatchInfo[0].ID != "751a" {
		t.Errorf("single object not normalized: %+v", single.BatchInfo)
	}

	var many batchInfoList
	if err := json.Unmarshal([]byte(`{"batchInfo":[{"id":"751a"},{"id":"751b"}]}`), &many); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(many.BatchInfo) != 2 || many.BatchInfo[1].ID != "751b" {
		t.Errorf("list not preserved: %+v", many.BatchInfo)
	}

	var ids oneOrMany[string]
	if err := json.Unmarshal([]byte(`"752a"`), &ids); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "752a" {
		t.Errorf("single string not normalized: %v", ids)
	}
}

func TestShapeRecordInsertStripsID(t *testing.T) {
	rec := codec.NewRecord().Set("Id", "001x").Set("Name", "Acme").SetNull("Industry")
	shaped := shapeRecord(OpInsert, rec)

	if shaped.Has("Id") {
		t.Error("insert shaping kept the Id field")
	}
	if v, _ := shaped.Get("Name"); v != "Acme" {
		t.Errorf("Name = %q, want Acme", v)
	}
	if !shaped.IsNull("Industry") {
		t.Error("null field lost in shaping")
	}
}

func TestShapeRecordDeleteKeepsOnlyID(t *testing.T) {
	rec := codec.NewRecord().Set("Id", "001x").Set("Name", "Acme")

	for _, op := range []OperationKind{OpDelete, OpHardDelete} {
		shaped := shapeRecord(op, rec)
		if shaped.Len() != 1 {
			t.Errorf("%s shaping kept %d fields, want 1", op, shaped.Len())
		}
		if v, _ := shaped.Get("Id"); v != "001x" {
			t.Errorf("%s shaping lost the Id field", op)
		}
	}
}

func TestShapeRecordUpdatePassesThrough(t *testing.T) {
	rec := codec.NewRecord().Set("Id", "001x").Set("Name", "Acme")
	shaped := shapeRecord(OpUpdate, rec)
	if shaped != rec {
		t.Error("update shaping should pass the record through unchanged")
	}
}

func TestDecodeLoadResultPartialFailure(t *testing.T) {
	body := "Id,Success,Created,Error\n001,true,true,\n,false,false,Required field missing\n003,true,true,\n"
	result, err := decodeLoadResult([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Records) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(result.Records))
	}
	failures := 0
	for _, r := range result.Records {
		if len(r.Errors) > 0 {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("expected exactly 1 failing row, got %d", failures)
	}

	bad := result.Records[1]
	if bad.ID != "" || bad.Success || len(bad.Errors) != 1 || bad.Errors[0] != "Required field missing" {
		t.Errorf("unexpected failing row: %+v", bad)
	}
	if result.Records[0].ID != "001" || result.Records[2].ID != "003" {
		t.Error("result order not preserved")
	}
}

func TestDecodeQueryResultOrder(t *testing.T) {
	result, err := decodeQueryResult([]byte(`["752a","752b"]`), "750j", "751b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(result.Parts))
	}
	if result.Parts[0].ResultID != "752a" || result.Parts[1].ResultID != "752b" {
		t.Errorf("part order not preserved: %+v", result.Parts)
	}
	if result.Parts[0].JobID != "750j" || result.Parts[0].BatchID != "751b" {
		t.Errorf("part refs incomplete: %+v", result.Parts[0])
	}
}

func TestParseQueryObject(t *testing.T) {
	tests := []struct {
		soql    string
		want    string
		wantErr bool
	}{
		{"SELECT Id FROM Account", "Account", false},
		{"select id from Contact where Name != null", "Contact", false},
		{"SELECT Id\nFROM\n  Custom__c", "Custom__c", false},
		{"SELECT Id", "", true},
	}

	for _, tt := range tests {
		got, err := parseQueryObject(tt.soql)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseQueryObject(%q): expected error", tt.soql)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseQueryObject(%q): unexpected error: %v", tt.soql, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseQueryObject(%q) = %q, want %q", tt.soql, got, tt.want)
		}
	}
}

func TestEmitterOrderAndIsolation(t *testing.T) {
	var e emitter
	var got []int
	e.On(EventOpen, func(any) { got = append(got, 1) })
	e.On(EventOpen, func(any) { got = append(got, 2) })
	e.On(EventClose, func(any) { got = append(got, 3) })

	e.emit(EventOpen, nil)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("handlers fired out of order: %v", got)
	}
}

func TestBatchStateTerminal(t *testing.T) {
	terminal := []BatchState{BatchCompleted, BatchFailed, BatchNotProcessed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []BatchState{BatchQueued, BatchInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

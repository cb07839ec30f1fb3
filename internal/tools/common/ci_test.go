package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriteCIResult(t *testing.T) {
	var buf bytes.Buffer
	writeCIResult(&buf, false, "auditcheck verify", []string{"checked=3"}, errors.New("content hash mismatch"))

	var got CIResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode ci result: %v", err)
	}
	if got.OK || got.Check != "auditcheck verify" || got.Error != "content hash mismatch" || len(got.Details) != 1 {
		t.Fatalf("unexpected ci result: %+v", got)
	}
}

package model

import "testing"

func TestDecodeMessage_RoundTrip(t *testing.T) {
	batch := MentionBatch{
		ID: "batch-1",
		Mentions: []MentionCandidate{
			{URL: "http://bit.ly/abc", PosterID: "poster-1"},
		},
	}

	data, err := EncodeMessage(batch)
	if err != nil {
		t.Fatalf("EncodeMessage error: %v", err)
	}

	var decoded MentionBatch
	if err := DecodeMessage(data, &decoded); err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if decoded.ID != batch.ID || len(decoded.Mentions) != 1 {
		t.Fatalf("unexpected decoded batch: %+v", decoded)
	}
}

func TestDecodeMessage_UnknownFieldsFailClosed(t *testing.T) {
	var batch MentionBatch
	err := DecodeMessage([]byte(`{"id":"x","mentions":[],"surprise":true}`), &batch)
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

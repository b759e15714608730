package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeEnvelope(t *testing.T) {
	raw, err := Encode(TypeAddPeer, AddPeer{ChannelID: "c", PeerID: "p", UserID: 4, CreateOffer: true})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"addPeer","data":{"channelId":"c","peerId":"p","userId":4,"createOffer":true}}`
	if string(raw) != want {
		t.Fatalf("got %s", raw)
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	var got AddPeer
	if err := env.Payload(&got); err != nil {
		t.Fatal(err)
	}
	if !got.CreateOffer || got.PeerID != "p" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestOpaqueCandidateSurvivesRelay(t *testing.T) {
	in := []byte(`{"type":"relayICE","data":{"peerId":"b","channelId":"c","candidate":{"candidate":"a=<x>&y","sdpMid":"0","sdpMLineIndex":0}}}`)
	env, err := Decode(in)
	if err != nil {
		t.Fatal(err)
	}
	var req ICEMessage
	if err := env.Payload(&req); err != nil {
		t.Fatal(err)
	}
	out, err := Encode(TypeICECandidate, ICEMessage{PeerID: "a", UserID: 1, ChannelID: req.ChannelID, Candidate: req.Candidate})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, req.Candidate) {
		t.Fatalf("candidate bytes changed: %s", out)
	}
}

func TestDecodeRejects(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Decode([]byte(`{"data":{}}`)); !errors.Is(err, ErrEmptyType) {
		t.Fatalf("expected ErrEmptyType, got %v", err)
	}
	env, _ := Decode([]byte(`{"type":"channelDetails:subscribe"}`))
	var ref ChannelRef
	if err := env.Payload(&ref); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}
}

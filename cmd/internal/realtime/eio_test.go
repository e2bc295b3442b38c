package realtime

import (
	"encoding/json"
	"testing"
)

func TestSplitEIO(t *testing.T) {
	typ, body, err := splitEIO([]byte(`0{"sid":"abc"}`))
	if err != nil {
		t.Fatalf("splitEIO: %v", err)
	}
	if typ != eioOpen || string(body) != `{"sid":"abc"}` {
		t.Fatalf("typ=%c body=%s", typ, body)
	}

	if _, _, err := splitEIO(nil); err == nil {
		t.Fatal("empty frame should error")
	}
}

func TestDecodeHandshake(t *testing.T) {
	hs, err := decodeHandshake([]byte(`{"sid":"s1","pingInterval":25000,"pingTimeout":20000}`))
	if err != nil {
		t.Fatalf("decodeHandshake: %v", err)
	}
	if hs.SID != "s1" || hs.PingInterval != 25000 || hs.PingTimeout != 20000 {
		t.Fatalf("unexpected handshake: %+v", hs)
	}

	if _, err := decodeHandshake([]byte(`{"pingInterval":1}`)); err == nil {
		t.Fatal("missing sid should error")
	}
	if _, err := decodeHandshake([]byte(`not json`)); err == nil {
		t.Fatal("bad json should error")
	}
}

func TestEncodeSIOConnect(t *testing.T) {
	if got := string(encodeSIOConnect()); got != "40" {
		t.Fatalf("connect packet = %q, want %q", got, "40")
	}
}

func TestEncodeSIOEvent(t *testing.T) {
	frame, err := encodeSIOEvent("join-task", map[string]string{"task_id": "t1"})
	if err != nil {
		t.Fatalf("encodeSIOEvent: %v", err)
	}
	want := `42["join-task",{"task_id":"t1"}]`
	if string(frame) != want {
		t.Fatalf("frame = %s, want %s", frame, want)
	}

	frame, err = encodeSIOEvent("identify")
	if err != nil {
		t.Fatalf("encodeSIOEvent no args: %v", err)
	}
	if string(frame) != `42["identify"]` {
		t.Fatalf("frame = %s", frame)
	}
}

func TestDecodeSIOEvent(t *testing.T) {
	name, args, err := decodeSIOEvent([]byte(`2["new-comment",{"text":"hi"},"extra"]`))
	if err != nil {
		t.Fatalf("decodeSIOEvent: %v", err)
	}
	if name != "new-comment" || len(args) != 2 {
		t.Fatalf("name=%q args=%d", name, len(args))
	}
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args[0], &p); err != nil || p.Text != "hi" {
		t.Fatalf("arg decode: %v %+v", err, p)
	}
}

func TestDecodeSIOEvent_SkipsAckID(t *testing.T) {
	name, _, err := decodeSIOEvent([]byte(`213["ack-event"]`))
	if err != nil {
		t.Fatalf("decodeSIOEvent with ack id: %v", err)
	}
	if name != "ack-event" {
		t.Fatalf("name = %q", name)
	}
}

func TestDecodeSIOEvent_Malformed(t *testing.T) {
	for _, in := range []string{"", "0{}", "2", "2{}", "2[]", `2[42]`} {
		if _, _, err := decodeSIOEvent([]byte(in)); err == nil {
			t.Fatalf("input %q should error", in)
		}
	}
}

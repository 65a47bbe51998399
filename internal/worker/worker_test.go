package worker

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func sendSeq(t *testing.T, conn *net.UDPConn, s uint32) {
	t.Helper()
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[:4], s)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestWorkerReceivesAndReportsOnTerminate(t *testing.T) {
	h, err := Start("127.0.0.1:0", 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	raddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: h.Port}
	sender, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()

	for _, s := range []uint32{0, 1, 3} {
		sendSeq(t, sender, s)
	}
	// Give the worker goroutine a moment to drain the socket before we
	// ask it to stop.
	time.Sleep(100 * time.Millisecond)
	h.Terminate()

	res := h.Await()
	if res.Err != nil {
		t.Fatalf("Await err = %v", res.Err)
	}
	if res.Report.Count != 3 {
		t.Fatalf("count = %d, want 3", res.Report.Count)
	}
	if res.Report.LastSeq != 3 {
		t.Fatalf("last_seq = %d, want 3", res.Report.LastSeq)
	}
	if len(res.Report.Missing) != 1 || res.Report.Missing[0].Lo != 2 || res.Report.Missing[0].Hi != 2 {
		t.Fatalf("missing = %v, want [(2,2)]", res.Report.Missing)
	}
}

func TestWorkerKeepsRunningUntilTerminate(t *testing.T) {
	h, err := Start("127.0.0.1:0", 30*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	raddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: h.Port}
	sender, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()
	sendSeq(t, sender, 0)

	// The worker only checks for termination on an idle timeout; it
	// keeps running until we ask it to stop.
	select {
	case <-time.After(100 * time.Millisecond):
	}
	h.Terminate()
	res := h.Await()
	if res.Err != nil {
		t.Fatalf("Await err = %v", res.Err)
	}
	if res.Report.Count != 1 {
		t.Fatalf("count = %d, want 1", res.Report.Count)
	}
}

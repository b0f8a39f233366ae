package flashlink

import (
	"errors"
	"io"
	"net"
	"testing"

	"ch32flash.dev/driver/flash"
)

func newLink(t *testing.T) (*Conn, *flash.Simulator) {
	t.Helper()
	sim := flash.NewSimulator(flash.DefaultRegion)
	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- Serve(server, sim)
	}()
	t.Cleanup(func() {
		client.Close()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
		server.Close()
	})
	return NewConn(client), sim
}

func TestLink(t *testing.T) {
	conn, sim := newLink(t)
	c := flash.New(conn, flash.DefaultRegion)
	const addr = flash.NonvolatileStart + 10
	c.Unlock()
	c.ErasePage(flash.NonvolatileStart)
	c.Program16(addr, 0xbeef)
	c.ProgramFloat(addr+2, 2.5)
	c.UnlockOptionBytes()
	c.WriteOptionBytes16(0xcafe)
	c.Lock()
	if err := conn.Err(); err != nil {
		t.Fatal(err)
	}
	if got := c.Read16(addr); got != 0xbeef {
		t.Errorf("read %#x, expected 0xbeef", got)
	}
	if got := c.Read8(addr + 1); got != 0xbe {
		t.Errorf("read %#x, expected 0xbe", got)
	}
	if got := c.ReadFloat(addr + 2); got != 2.5 {
		t.Errorf("read %v, expected 2.5", got)
	}
	if got := c.ReadData16(); got != 0xcafe {
		t.Errorf("option data %#x, expected 0xcafe", got)
	}
	if !c.Locked() {
		t.Error("target not locked")
	}
	if n := sim.Violations(); n > 0 {
		t.Errorf("%d accesses while busy", n)
	}
	if err := conn.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestLinkFault(t *testing.T) {
	conn, _ := newLink(t)
	c := flash.New(conn, flash.DefaultRegion)
	c.Read16(flash.Base + flash.Capacity)
	if err := conn.Err(); !errors.Is(err, ErrNACK) {
		t.Fatalf("got error %v, expected %v", err, ErrNACK)
	}
	// Waits must not hang on a failed link.
	c.WaitUntilDone()
	if got := c.Read16(flash.NonvolatileStart); got != 0 {
		t.Errorf("read %#x after failure, expected 0", got)
	}
}

func TestCorruptRequest(t *testing.T) {
	sim := flash.NewSimulator(flash.DefaultRegion)
	client, server := net.Pipe()
	defer client.Close()
	go Serve(server, sim)
	var req [requestSize]byte
	encodeRequest(&req, cmdReadReg, flash.CTLR.Offset(), 0)
	req[requestSize-1] ^= 0x1
	go client.Write(req[:])
	var rep [replySize]byte
	if _, err := io.ReadFull(client, rep[:]); err != nil {
		t.Fatal(err)
	}
	if rep[0] != nack {
		t.Errorf("corrupt request answered with %#x, expected NACK", rep[0])
	}
	if checksum(rep[:replySize-1]) != rep[replySize-1] {
		t.Error("reply checksum mismatch")
	}
}

func TestUnknownRegister(t *testing.T) {
	sim := flash.NewSimulator(flash.DefaultRegion)
	if _, err := execute(sim, cmdReadReg, 0x18, 0); err == nil {
		t.Error("read of reserved register offset succeeded")
	}
	if _, err := execute(sim, 'x', 0, 0); err == nil {
		t.Error("unknown command succeeded")
	}
	v, err := execute(sim, cmdReadReg, flash.CTLR.Offset(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if v&flash.CTLR_LOCK == 0 {
		t.Errorf("CTLR %#x, expected lock bit", v)
	}
}

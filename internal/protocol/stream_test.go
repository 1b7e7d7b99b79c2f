package protocol

import (
	"testing"
	"time"

	"github.com/lanternops/spilink/internal/spi"
)

func TestReliableStreamRoundTrip(t *testing.T) {
	master, slave := spi.NewMemoryLinkPair()

	packets := make([]uint32, 37) // spans several checkpoint boundaries
	for i := range packets {
		packets[i] = 0x1000 + uint32(i)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- NewReliableStream(master, RoleMaster).Send(packets, CmdPixels)
	}()

	got := make([]uint32, len(packets))
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- NewReceiver(slave, RoleSlave).ReceiveSequence(got, func() bool { return false }, nil)
	}()

	select {
	case err := <-sendErr:
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not complete")
	}

	select {
	case err := <-recvErr:
		if err != nil {
			t.Fatalf("ReceiveSequence failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReceiveSequence did not complete")
	}

	for i := range packets {
		if got[i] != packets[i] {
			t.Fatalf("packet %d = 0x%08X, want 0x%08X", i, got[i], packets[i])
		}
	}
}

func TestReliableStreamSelectsBulkSpeed(t *testing.T) {
	master, slave := spi.NewMemoryLinkPair()

	sendErr := make(chan error, 1)
	go func() { sendErr <- NewReliableStream(master, RoleMaster).Send([]uint32{0xAA}, CmdAudio) }()

	got := make([]uint32, 1)
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- NewReceiver(slave, RoleSlave).ReceiveSequence(got, func() bool { return false }, nil)
	}()

	<-sendErr
	<-recvErr

	if master.Speed() != spi.SpeedBulk {
		t.Fatalf("Speed() = %v, want SpeedBulk", master.Speed())
	}
}

// fakeBreakableLink is a minimal BreakableLink test double that breaks
// exactly once (on the Nth call), then answers SlaveSync's recovery
// validation words, then hands back resumeWord on the replay that
// completes the original exchange. It lets ReceiveWord's recovery path be
// exercised without depending on incidental timing in the
// goroutine-scheduled MemoryLink break drain.
//
// Every call after the break goes through ExchangeBreakable, not
// Exchange32: ReceiveWord's recovery uses SlaveSync/receiveFirst
// throughout, since the master side always sends first and this side must
// always receive first to complete the rendezvous.
type fakeBreakableLink struct {
	calls      int
	breakOn    int
	syncRemote uint32 // word this link hands back during the recovery SlaveSync's exchanges
	resumeWord uint32
}

func (f *fakeBreakableLink) Exchange32(word uint32) (uint32, error) {
	f.calls++
	return word, nil
}

func (f *fakeBreakableLink) ExchangeBreakable(word uint32, mayBreak func() bool) (uint32, bool, error) {
	f.calls++
	switch {
	case f.calls == f.breakOn:
		return 0, true, nil
	case f.calls > f.breakOn && f.calls <= f.breakOn+int(SyncValidations):
		// SlaveSync's three validation rounds.
		return f.syncRemote + uint32(f.calls-f.breakOn-1), false, nil
	case f.calls == f.breakOn+int(SyncValidations)+2:
		// The second receiveFirst replay, completing the original exchange.
		return f.resumeWord, false, nil
	default:
		return word, false, nil
	}
}

func TestReceiveWordRecoversAfterBreak(t *testing.T) {
	link := &fakeBreakableLink{
		breakOn:    1,
		syncRemote: CmdRecovery + RoleMaster.Offset(),
		resumeWord: 0x777,
	}

	onBreakCalled := false
	got, err := NewReceiver(link, RoleSlave).ReceiveWord(0x42, func() bool { return false }, func() {
		onBreakCalled = true
	})
	if err != nil {
		t.Fatalf("ReceiveWord failed: %v", err)
	}
	if !onBreakCalled {
		t.Fatal("onBreak callback was not invoked")
	}
	if got != 0x777 {
		t.Fatalf("got = 0x%X, want 0x777 (the replayed resume word)", got)
	}
}

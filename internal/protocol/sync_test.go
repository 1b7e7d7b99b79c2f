package protocol

import (
	"testing"
	"time"

	"github.com/lanternops/spilink/internal/spi"
)

func TestSyncConverges(t *testing.T) {
	master, slave := spi.NewMemoryLinkPair()

	masterErr := make(chan error, 1)
	slaveErr := make(chan error, 1)

	// Mirrors the real pairing: the master always sends first (Sync), the
	// slave always receives first (SlaveSync). Two peers both calling the
	// send-first Sync would each block sending into a channel nobody is
	// positioned to read from yet.
	go func() { masterErr <- Sync(master, RoleMaster, CmdFrameStart) }()
	go func() {
		slaveErr <- SlaveSync(slave, RoleSlave, CmdFrameStart, func() bool { return false }, nil)
	}()

	select {
	case err := <-masterErr:
		if err != nil {
			t.Fatalf("master Sync failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("master Sync did not complete")
	}

	select {
	case err := <-slaveErr:
		if err != nil {
			t.Fatalf("slave Sync failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("slave Sync did not complete")
	}
}

func TestSyncAbortsOnReset(t *testing.T) {
	master, slave := spi.NewMemoryLinkPair()

	masterErr := make(chan error, 1)
	go func() { masterErr <- Sync(master, RoleMaster, CmdFrameStart) }()

	// Play the role of a slave that has already given up and gone back to
	// CMD_RESET instead of continuing the handshake. It receives first, as
	// every slave-side exchange does, so the master's send has a reader.
	go func() {
		for {
			if _, _, err := slave.ExchangeBreakable(CmdReset, nil); err != nil {
				return
			}
		}
	}()

	select {
	case err := <-masterErr:
		if !IsKind(err, KindDesync) {
			t.Fatalf("err = %v, want KindDesync", err)
		}
	case <-time.After(time.Second):
		t.Fatal("master Sync did not return after peer sent CMD_RESET")
	}
}

func TestFinishSyncIfNeeded(t *testing.T) {
	remote := CmdFrameStart + RoleSlave.Offset()

	for i := uint32(0); i < SyncValidations; i++ {
		if !FinishSyncIfNeeded(remote+i, RoleMaster, CmdFrameStart) {
			t.Errorf("validation echo %d not recognized as a straggling sync word", i)
		}
	}

	if FinishSyncIfNeeded(0x1234, RoleMaster, CmdFrameStart) {
		t.Fatal("an unrelated word was misidentified as a straggling sync echo")
	}
}

func TestSlaveSyncConverges(t *testing.T) {
	master, slave := spi.NewMemoryLinkPair()

	masterErr := make(chan error, 1)
	slaveErr := make(chan error, 1)

	go func() { masterErr <- Sync(master, RoleMaster, CmdRecovery) }()
	go func() {
		slaveErr <- SlaveSync(slave, RoleSlave, CmdRecovery, func() bool { return false }, nil)
	}()

	select {
	case err := <-masterErr:
		if err != nil {
			t.Fatalf("master Sync failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("master Sync did not complete")
	}

	select {
	case err := <-slaveErr:
		if err != nil {
			t.Fatalf("SlaveSync failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SlaveSync did not complete")
	}
}

func TestSlaveSyncEitherMatchesPrimary(t *testing.T) {
	master, slave := spi.NewMemoryLinkPair()

	masterErr := make(chan error, 1)
	type slaveResult struct {
		command uint32
		err     error
	}
	slaveRes := make(chan slaveResult, 1)

	go func() { masterErr <- Sync(master, RoleMaster, CmdFrameStart) }()
	go func() {
		command, err := SlaveSyncEither(slave, RoleSlave, CmdFrameStart, CmdPause, func() bool { return false }, nil)
		slaveRes <- slaveResult{command, err}
	}()

	select {
	case err := <-masterErr:
		if err != nil {
			t.Fatalf("master Sync failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("master Sync did not complete")
	}

	select {
	case res := <-slaveRes:
		if res.err != nil {
			t.Fatalf("SlaveSyncEither failed: %v", res.err)
		}
		if res.command != CmdFrameStart {
			t.Fatalf("command = %#x, want CmdFrameStart", res.command)
		}
	case <-time.After(time.Second):
		t.Fatal("SlaveSyncEither did not complete")
	}
}

func TestSlaveSyncEitherMatchesAlternate(t *testing.T) {
	master, slave := spi.NewMemoryLinkPair()

	masterErr := make(chan error, 1)
	type slaveResult struct {
		command uint32
		err     error
	}
	slaveRes := make(chan slaveResult, 1)

	// The master issues CMD_PAUSE, which is SlaveSyncEither's alternate
	// (its default guess is the primary, CMD_FRAME_START) — this exercises
	// the one-round correction path.
	go func() { masterErr <- Sync(master, RoleMaster, CmdPause) }()
	go func() {
		command, err := SlaveSyncEither(slave, RoleSlave, CmdFrameStart, CmdPause, func() bool { return false }, nil)
		slaveRes <- slaveResult{command, err}
	}()

	select {
	case err := <-masterErr:
		if err != nil {
			t.Fatalf("master Sync failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("master Sync did not complete")
	}

	select {
	case res := <-slaveRes:
		if res.err != nil {
			t.Fatalf("SlaveSyncEither failed: %v", res.err)
		}
		if res.command != CmdPause {
			t.Fatalf("command = %#x, want CmdPause", res.command)
		}
	case <-time.After(time.Second):
		t.Fatal("SlaveSyncEither did not complete")
	}
}

package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.bug.st/serial"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
)

func recordingExec(calls *[][]string, results ...error) *fakeexec.FakeExec {
	fe := &fakeexec.FakeExec{}
	for _, res := range results {
		fe.CommandScript = append(fe.CommandScript, func(cmd string, args ...string) exec.Cmd {
			*calls = append(*calls, append([]string{cmd}, args...))
			fc := &fakeexec.FakeCmd{
				CombinedOutputScript: []fakeexec.FakeAction{
					func() ([]byte, []byte, error) { return []byte("relay says hi"), nil, res },
				},
			}
			return fakeexec.InitFakeCmd(fc, cmd, args...)
		})
	}
	return fe
}

func TestUSBRelayPowerCycle(t *testing.T) {
	var calls [][]string
	fe := recordingExec(&calls, nil, nil)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clk := testingclock.NewFakeClock(start)

	r := NewUSBRelay(Config{}, fe, clk, nil)
	if err := r.PowerCycle(context.Background()); err != nil {
		t.Fatalf("PowerCycle() error = %v", err)
	}

	want := [][]string{{"usbrelay", "BITFT_1=0"}, {"usbrelay", "BITFT_1=1"}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if got := clk.Since(start); got != DefaultUSBDwell+usbSettle {
		t.Errorf("waited %v, want %v", got, DefaultUSBDwell+usbSettle)
	}
}

func TestUSBRelayCommandFailureIsFatal(t *testing.T) {
	var calls [][]string
	fe := recordingExec(&calls, errors.New("exit status 1"))
	clk := testingclock.NewFakeClock(time.Now())

	r := NewUSBRelay(Config{USBCommand: "relayctl", USBChannel: "CH2", Dwell: time.Second}, fe, clk, nil)
	err := r.PowerCycle(context.Background())
	if !errors.Is(err, ErrRelay) {
		t.Fatalf("PowerCycle() error = %v, want ErrRelay", err)
	}
	if diff := cmp.Diff([][]string{{"relayctl", "CH2=0"}}, calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

type fakePort struct {
	writes  []string
	timeout time.Duration
	closed  bool
	failOn  string
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.failOn != "" && string(b) == p.failOn {
		return 0, errors.New("write failed")
	}
	p.writes = append(p.writes, string(b))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func TestSerialRelayPowerCycle(t *testing.T) {
	port := &fakePort{}
	var gotMode *serial.Mode
	var gotName string
	open := func(name string, mode *serial.Mode) (Port, error) {
		gotName, gotMode = name, mode
		return port, nil
	}
	start := time.Unix(0, 0)
	clk := testingclock.NewFakeClock(start)

	r := NewSerialRelay(Config{SerialPort: "/dev/ttyUSB0", BaudRate: 115200}, open, clk, nil)
	if err := r.PowerCycle(context.Background()); err != nil {
		t.Fatalf("PowerCycle() error = %v", err)
	}

	if gotName != "/dev/ttyUSB0" {
		t.Errorf("opened %q", gotName)
	}
	wantMode := &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	if diff := cmp.Diff(wantMode, gotMode); diff != "" {
		t.Errorf("mode mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"AT+CH1=0", "AT+CH1=1"}, port.writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
	if port.timeout != time.Second || !port.closed {
		t.Errorf("port timeout=%v closed=%v", port.timeout, port.closed)
	}
	if got := clk.Since(start); got != DefaultSerialDwell+serialSettle {
		t.Errorf("waited %v, want %v", got, DefaultSerialDwell+serialSettle)
	}
}

func TestSerialRelayFailures(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())

	t.Run("open", func(t *testing.T) {
		open := func(string, *serial.Mode) (Port, error) { return nil, errors.New("no such device") }
		err := NewSerialRelay(Config{SerialPort: "COM9"}, open, clk, nil).PowerCycle(context.Background())
		if !errors.Is(err, ErrRelay) {
			t.Errorf("error = %v, want ErrRelay", err)
		}
	})

	t.Run("write", func(t *testing.T) {
		port := &fakePort{failOn: serialOn}
		open := func(string, *serial.Mode) (Port, error) { return port, nil }
		err := NewSerialRelay(Config{SerialPort: "COM9"}, open, clk, nil).PowerCycle(context.Background())
		if !errors.Is(err, ErrRelay) || !port.closed {
			t.Errorf("error = %v closed = %v, want ErrRelay and closed port", err, port.closed)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		port := &fakePort{}
		open := func(string, *serial.Mode) (Port, error) { return port, nil }
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewSerialRelay(Config{SerialPort: "COM9"}, open, clk, nil).PowerCycle(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
		if diff := cmp.Diff([]string{serialOff}, port.writes); diff != "" {
			t.Errorf("writes mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestNew(t *testing.T) {
	if r, err := New(core.SetupPADAS, Config{}, nil); err != nil {
		t.Errorf("New(PADAS) error = %v", err)
	} else if _, ok := r.(*USBRelay); !ok {
		t.Errorf("New(PADAS) = %T, want *USBRelay", r)
	}
	if _, err := New(core.SetupElite, Config{}, nil); !errors.Is(err, ErrRelay) {
		t.Errorf("New(ELITE) without port error = %v, want ErrRelay", err)
	}
	if r, err := New(core.SetupElite, Config{SerialPort: "COM3"}, nil); err != nil {
		t.Errorf("New(ELITE) error = %v", err)
	} else if _, ok := r.(*SerialRelay); !ok {
		t.Errorf("New(ELITE) = %T, want *SerialRelay", r)
	}
}

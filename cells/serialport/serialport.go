// Package serialport exposes serial device access as a cell. One port
// may be open at a time; received data is pushed to the bus as
// serial.received events and also buffered for polling via the receive
// action.
package serialport

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/xiaojinao/cellium/cell"
	"github.com/xiaojinao/cellium/command"
	"github.com/xiaojinao/cellium/eventbus"
)

// Events published by the serial cell
const (
	EventReceived = "serial.received"
	EventOpened   = "serial.opened"
	EventClosed   = "serial.closed"
	EventError    = "serial.error"
)

const defaultBaud = 115200

// receiveBufferLimit caps the polling buffer; older chunks are discarded
// once a client stops draining it.
const receiveBufferLimit = 256

// Port is the minimal device surface the cell needs. The production
// implementation is a go.bug.st/serial port; tests use a loopback.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a named port at the given baud rate
type Opener func(name string, baud int) (Port, error)

// Lister enumerates available port names
type Lister func() ([]string, error)

func defaultOpener(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

func defaultLister() ([]string, error) {
	return serial.GetPortsList()
}

// SerialPort is the serial device cell
type SerialPort struct {
	bus    *eventbus.Bus
	logger *slog.Logger
	opener Opener
	lister Lister

	mu       sync.Mutex
	port     Port
	portName string
	baud     int
	done     chan struct{}
	received []string
}

// CellOption overrides device access, used by tests
type CellOption func(*SerialPort)

// WithOpener replaces the device opener
func WithOpener(opener Opener) CellOption {
	return func(s *SerialPort) { s.opener = opener }
}

// WithLister replaces the port enumerator
func WithLister(lister Lister) CellOption {
	return func(s *SerialPort) { s.lister = lister }
}

// New constructs the serial cell against real devices
func New(deps cell.Dependencies) (cell.Cell, error) {
	return NewWithOptions(deps), nil
}

// NewWithOptions constructs the serial cell with overrides
func NewWithOptions(deps cell.Dependencies, opts ...CellOption) *SerialPort {
	s := &SerialPort{
		bus:    deps.Bus,
		logger: deps.GetLoggerWithCell("serialport"),
		opener: defaultOpener,
		lister: defaultLister,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements cell.Cell
func (s *SerialPort) Name() string { return "serialport" }

// Actions implements cell.Cell
func (s *SerialPort) Actions() map[string]cell.Action {
	return map[string]cell.Action{
		"list":    s.list,
		"open":    s.open,
		"close":   s.closeAction,
		"send":    s.send,
		"sendhex": s.sendHex,
		"status":  s.status,
		"receive": s.receive,
	}
}

// Describe implements cell.Describer
func (s *SerialPort) Describe() map[string]string {
	return map[string]string{
		"list":    "Enumerate available serial ports",
		"open":    "Open a port, e.g. serialport:open:{\"port\":\"COM3\",\"baud\":9600}",
		"close":   "Close the open port",
		"send":    "Write text to the open port",
		"sendhex": "Write hex-encoded bytes to the open port",
		"status":  "Report the connection state",
		"receive": "Drain buffered received data",
	}
}

// Stop implements cell.Stoppable
func (s *SerialPort) Stop() error {
	_, err := s.closePort()
	return err
}

func (s *SerialPort) list(command.Value) (any, error) {
	names, err := s.lister()
	if err != nil {
		return nil, fmt.Errorf("port enumeration failed: %v", err)
	}
	items := make([]command.Value, len(names))
	for i, name := range names {
		items[i] = command.String(name)
	}
	return command.Seq(items...), nil
}

func (s *SerialPort) open(payload command.Value) (any, error) {
	name, baud, err := openParams(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil, fmt.Errorf("port %s already open", s.portName)
	}

	port, err := s.opener(name, baud)
	if err != nil {
		s.publish(EventError, eventbus.Data{"port": name, "error": err.Error()})
		return nil, fmt.Errorf("open %s failed: %v", name, err)
	}

	s.port = port
	s.portName = name
	s.baud = baud
	s.done = make(chan struct{})
	s.received = nil

	go s.readLoop(port, name, s.done)

	s.publish(EventOpened, eventbus.Data{"port": name, "baud": baud})
	s.logger.Info("port opened", "port", name, "baud", baud)
	return fmt.Sprintf("Opened %s at %d baud", name, baud), nil
}

func (s *SerialPort) closeAction(command.Value) (any, error) {
	name, err := s.closePort()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return "No port open", nil
	}
	return "Closed " + name, nil
}

func (s *SerialPort) closePort() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return "", nil
	}

	name := s.portName
	close(s.done)
	err := s.port.Close()
	s.port = nil
	s.portName = ""
	s.baud = 0

	s.publish(EventClosed, eventbus.Data{"port": name})
	s.logger.Info("port closed", "port", name)
	if err != nil {
		return name, fmt.Errorf("close %s failed: %v", name, err)
	}
	return name, nil
}

func (s *SerialPort) send(payload command.Value) (any, error) {
	text := payload.Text()
	if text == "" {
		return nil, fmt.Errorf("nothing to send")
	}
	return s.write([]byte(text))
}

func (s *SerialPort) sendHex(payload command.Value) (any, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(payload.Text())
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %v", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("nothing to send")
	}
	return s.write(data)
}

func (s *SerialPort) write(data []byte) (any, error) {
	s.mu.Lock()
	port := s.port
	name := s.portName
	s.mu.Unlock()

	if port == nil {
		return nil, fmt.Errorf("no port open")
	}

	n, err := port.Write(data)
	if err != nil {
		s.publish(EventError, eventbus.Data{"port": name, "error": err.Error()})
		return nil, fmt.Errorf("write failed: %v", err)
	}
	return fmt.Sprintf("Sent %d bytes", n), nil
}

func (s *SerialPort) status(command.Value) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := command.NewMap()
	out.Set("open", command.Bool(s.port != nil))
	if s.port != nil {
		out.Set("port", command.String(s.portName))
		out.Set("baud", command.Number(float64(s.baud)))
	}
	return out, nil
}

// receive drains and returns the polling buffer
func (s *SerialPort) receive(command.Value) (any, error) {
	s.mu.Lock()
	chunks := s.received
	s.received = nil
	s.mu.Unlock()

	items := make([]command.Value, len(chunks))
	for i, chunk := range chunks {
		items[i] = command.String(chunk)
	}
	return command.Seq(items...), nil
}

// readLoop pumps device data to the bus until the port closes. It holds
// no lock while blocked in Read; done distinguishes an intentional close
// from a device failure.
func (s *SerialPort) readLoop(port Port, name string, done chan struct{}) {
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			s.buffer(chunk)
			s.publish(EventReceived, eventbus.Data{"port": name, "data": chunk})
		}
		if err != nil {
			select {
			case <-done:
				// Intentional close
			default:
				s.logger.Warn("read loop terminated", "port", name, "error", err)
				s.publish(EventError, eventbus.Data{"port": name, "error": err.Error()})
			}
			return
		}
	}
}

func (s *SerialPort) buffer(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, chunk)
	if len(s.received) > receiveBufferLimit {
		s.received = s.received[len(s.received)-receiveBufferLimit:]
	}
}

func (s *SerialPort) publish(event string, data eventbus.Data) {
	if s.bus != nil {
		s.bus.Publish(event, data)
	}
}

// openParams accepts either a bare port name or {"port": ..., "baud": ...}
func openParams(payload command.Value) (string, int, error) {
	switch payload.Kind() {
	case command.KindString:
		if payload.Text() == "" {
			return "", 0, fmt.Errorf("port name required")
		}
		return payload.Text(), defaultBaud, nil
	case command.KindMap:
		m := payload.AsMap()
		portVal, ok := m.Get("port")
		if !ok || portVal.Text() == "" {
			return "", 0, fmt.Errorf("port name required")
		}
		baud := defaultBaud
		if baudVal, ok := m.Get("baud"); ok && baudVal.Float() > 0 {
			baud = int(baudVal.Float())
		}
		return portVal.Text(), baud, nil
	default:
		return "", 0, fmt.Errorf("port name required")
	}
}

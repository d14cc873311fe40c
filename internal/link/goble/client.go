package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/internal/groutine"
)

// ClientOptions configures the initiating adapter
type ClientOptions struct {
	LocalAddress string
	Logger       *logrus.Logger
}

// Client implements session.ClientLink over a go-ble central. Every
// procedure runs in its own goroutine and ends with a ProcedureCompleted
// event, the way an event-driven stack reports it.
type Client struct {
	dev    ble.Device
	sink   Sink
	opts   ClientOptions
	logger *logrus.Logger

	// advertisers already reported during the current scan
	seen *hashmap.Map[string, struct{}]

	mu       sync.Mutex
	ctx      context.Context
	stopScan context.CancelFunc
	cln      ble.Client
	handle   uint8
	services map[gatt.Capability]*ble.Service
	chars    map[gatt.Capability]*ble.Characteristic
}

// NewClient creates the adapter
func NewClient(dev ble.Device, sink Sink, opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Client{
		dev:      dev,
		sink:     sink,
		opts:     opts,
		logger:   opts.Logger,
		seen:     hashmap.New[string, struct{}](),
		ctx:      context.Background(),
		services: make(map[gatt.Capability]*ble.Service),
		chars:    make(map[gatt.Capability]*ble.Characteristic),
	}
}

// Start posts Boot. ctx bounds every goroutine the adapter starts.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	c.sink.PostPeer(event.Boot{Address: localAddress(c.dev, c.opts.LocalAddress)})
	return nil
}

func (c *Client) StartScan() error {
	c.mu.Lock()
	if c.stopScan != nil {
		c.stopScan()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopScan = cancel
	c.mu.Unlock()

	c.seen.Range(func(key string, _ struct{}) bool {
		c.seen.Del(key)
		return true
	})

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := c.dev.Scan(ctx, false, func(a ble.Advertisement) {
			addr := a.Addr().String()
			if _, dup := c.seen.GetOrInsert(addr, struct{}{}); dup {
				return
			}
			c.sink.PostPeer(event.ScanReport{Address: addr, Name: a.LocalName()})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithField("error", NormalizeError(err)).Warn("Scan stopped")
		}
	})
	return nil
}

func (c *Client) Connect(address string) error {
	c.mu.Lock()
	if c.cln != nil {
		c.mu.Unlock()
		return nil
	}
	if c.stopScan != nil {
		c.stopScan()
		c.stopScan = nil
	}
	ctx := c.ctx
	c.mu.Unlock()

	groutine.Go(ctx, "ble-dial", func(ctx context.Context) {
		cln, err := c.dev.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			c.logger.WithFields(logrus.Fields{"address": address, "error": NormalizeError(err)}).Warn("Dial failed")
			c.sink.PostPeer(event.ConnectionClosed{Reason: ReasonConnectionFailed})
			return
		}

		c.mu.Lock()
		c.cln = cln
		c.handle++
		handle := c.handle
		clear(c.services)
		clear(c.chars)
		c.mu.Unlock()

		c.sink.PostPeer(event.ConnectionOpened{Address: cln.Addr().String(), Handle: handle})

		select {
		case <-disconnected(cln):
		case <-ctx.Done():
			_ = cln.CancelConnection()
			return
		}

		c.mu.Lock()
		if c.cln == cln {
			c.cln = nil
		}
		c.mu.Unlock()
		c.sink.PostPeer(event.ConnectionClosed{Reason: ReasonRemoteUserTerminated})
	})
	return nil
}

// procedure runs fn against the live connection and reports its result
func (c *Client) procedure(name string, fn func(cln ble.Client) uint16) error {
	c.mu.Lock()
	cln := c.cln
	ctx := c.ctx
	c.mu.Unlock()

	if cln == nil {
		return ErrNotConnected
	}
	groutine.Go(ctx, name, func(context.Context) {
		c.sink.PostPeer(event.ProcedureCompleted{Result: fn(cln)})
	})
	return nil
}

func (c *Client) DiscoverService(cp gatt.Capability) error {
	spec, ok := gatt.Lookup(cp)
	if !ok {
		return ErrUnsupported
	}
	return c.procedure("ble-discover-service", func(cln ble.Client) uint16 {
		svcs, err := cln.DiscoverServices([]ble.UUID{spec.Service})
		if err != nil {
			c.logger.WithFields(logrus.Fields{"capability": cp, "error": err}).Warn("Service discovery failed")
			return ResultUnlikelyError
		}
		for _, svc := range svcs {
			if !svc.UUID.Equal(spec.Service) {
				continue
			}
			c.mu.Lock()
			c.services[cp] = svc
			c.mu.Unlock()
			c.sink.PostPeer(event.ServiceFound{Capability: cp, Handle: uint32(svc.Handle)<<16 | uint32(svc.EndHandle)})
			return 0
		}
		return ResultAttributeNotFound
	})
}

func (c *Client) DiscoverCharacteristic(cp gatt.Capability) error {
	spec, ok := gatt.Lookup(cp)
	if !ok {
		return ErrUnsupported
	}
	c.mu.Lock()
	svc := c.services[cp]
	c.mu.Unlock()
	if svc == nil {
		return ErrNotConnected
	}

	return c.procedure("ble-discover-characteristic", func(cln ble.Client) uint16 {
		chars, err := cln.DiscoverCharacteristics([]ble.UUID{spec.Characteristic}, svc)
		if err != nil {
			c.logger.WithFields(logrus.Fields{"capability": cp, "error": err}).Warn("Characteristic discovery failed")
			return ResultUnlikelyError
		}
		for _, ch := range chars {
			if !ch.UUID.Equal(spec.Characteristic) {
				continue
			}
			// Subscribe needs the CCCD handle
			if _, err := cln.DiscoverDescriptors(nil, ch); err != nil {
				c.logger.WithFields(logrus.Fields{"capability": cp, "error": err}).Warn("Descriptor discovery failed")
				return ResultUnlikelyError
			}
			c.mu.Lock()
			c.chars[cp] = ch
			c.mu.Unlock()
			c.sink.PostPeer(event.CharacteristicFound{Capability: cp, Handle: ch.ValueHandle})
			return 0
		}
		return ResultAttributeNotFound
	})
}

func (c *Client) characteristic(cp gatt.Capability) (*ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.chars[cp]
	if ch == nil {
		return nil, ErrNotConnected
	}
	return ch, nil
}

func (c *Client) EnableIndications(cp gatt.Capability) error {
	ch, err := c.characteristic(cp)
	if err != nil {
		return err
	}
	return c.procedure("ble-subscribe", func(cln ble.Client) uint16 {
		err := cln.Subscribe(ch, true, func(b []byte) {
			c.sink.PostPeer(event.CharacteristicValue{
				Capability: cp,
				Value:      append([]byte(nil), b...),
				Indication: true,
			})
		})
		if err != nil {
			c.logger.WithFields(logrus.Fields{"capability": cp, "error": err}).Warn("Subscribe failed")
			return ResultUnlikelyError
		}
		return 0
	})
}

// ConfirmIndication is answered by go-ble itself when the handler returns
func (c *Client) ConfirmIndication() error { return nil }

// IncreaseSecurity is not available: go-ble has no security manager
func (c *Client) IncreaseSecurity() error { return ErrUnsupported }

// ConfirmBonding and ConfirmPasskey have nothing to answer: this adapter
// never posts security requests
func (c *Client) ConfirmBonding(bool) error { return nil }
func (c *Client) ConfirmPasskey(bool) error { return nil }

func (c *Client) ReadCharacteristic(cp gatt.Capability) error {
	ch, err := c.characteristic(cp)
	if err != nil {
		return err
	}

	c.mu.Lock()
	cln := c.cln
	ctx := c.ctx
	c.mu.Unlock()
	if cln == nil {
		return ErrNotConnected
	}

	groutine.Go(ctx, "ble-read", func(context.Context) {
		v, err := cln.ReadCharacteristic(ch)
		if err != nil {
			c.logger.WithFields(logrus.Fields{"capability": cp, "error": err}).Warn("Read failed")
			return
		}
		c.sink.PostPeer(event.CharacteristicValue{Capability: cp, Value: v})
	})
	return nil
}

// Close drops the connection and stops scanning
func (c *Client) Close() error {
	c.mu.Lock()
	cln := c.cln
	c.cln = nil
	if c.stopScan != nil {
		c.stopScan()
		c.stopScan = nil
	}
	c.mu.Unlock()

	if cln == nil {
		return nil
	}
	return cln.CancelConnection()
}

// disconnected returns the channel closed when the link drops. Platforms
// without one yield nil, leaving ctx as the only way out.
func disconnected(cln ble.Client) <-chan struct{} {
	if d, ok := cln.(interface{ Disconnected() <-chan struct{} }); ok {
		return d.Disconnected()
	}
	if conn := cln.Conn(); conn != nil {
		return conn.Disconnected()
	}
	return nil
}

package pipeline

import (
	"errors"
	"fmt"
	"strconv"

	"mathbridge/internal/catalog"
	"mathbridge/internal/logging"
	"mathbridge/internal/metrics"
	"mathbridge/internal/protocol"
)

var ErrNotTranslated = errors.New("no proxy bound for element")

// Disclosure sends show requests for translated expressions. Requests are
// fire-and-forget and every click sends one, without debouncing.
type Disclosure struct {
	catalog  *catalog.Catalog
	sender   Sender
	newID    func() string
	logger   *logging.Logger
	metrics  *metrics.Registry
	handlers map[string]func() error
}

func NewDisclosure(cat *catalog.Catalog, sender Sender, newID func() string, logger *logging.Logger, registry *metrics.Registry) *Disclosure {
	return &Disclosure{
		catalog:  cat,
		sender:   sender,
		newID:    newID,
		logger:   logger,
		metrics:  registry,
		handlers: make(map[string]func() error),
	}
}

// Bind registers the click handler of expression index under its proxy id.
func (d *Disclosure) Bind(index int) {
	d.handlers[ProxyID(index)] = func() error {
		return d.show(index)
	}
}

// Click runs the handler bound to the element with the given id.
func (d *Disclosure) Click(elementID string) error {
	handler, ok := d.handlers[elementID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotTranslated, elementID)
	}
	return handler()
}

func (d *Disclosure) show(index int) error {
	original, err := d.catalog.Original(index)
	if err != nil {
		return err
	}
	err = d.sender.Send(protocol.Request{Action: protocol.ActionShow, Content: original, ID: d.newID()})
	d.metrics.RecordAction(string(protocol.ActionShow), 0, err)
	if err != nil {
		return fmt.Errorf("show expression %d: %w", index, err)
	}
	d.logger.Debug("show sent", map[string]string{"index": strconv.Itoa(index)})
	return nil
}

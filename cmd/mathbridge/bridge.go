package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"mathbridge/internal/channel"
	"mathbridge/internal/config"
	"mathbridge/internal/dom"
	"mathbridge/internal/fsutil"
	"mathbridge/internal/logging"
	"mathbridge/internal/metrics"
	"mathbridge/internal/pipeline"
	"mathbridge/internal/protocol"
	"mathbridge/internal/watcher"
)

var errClosedEarly = errors.New("channel closed before every expression was translated")

type bridge struct {
	cfg      Config
	settings config.Config
	logger   *logging.Logger
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
}

func (b *bridge) execute(ctx context.Context) error {
	if err := b.translateOnce(ctx); err != nil {
		return err
	}
	if !b.cfg.Watch {
		return nil
	}
	return b.watch(ctx)
}

// translateOnce activates one session over a freshly parsed document and
// writes the result. A partially translated document is still written when
// the channel fails.
func (b *bridge) translateOnce(ctx context.Context) error {
	doc, err := b.readDocument()
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	registry := &metrics.Registry{}
	session := pipeline.Activate(doc, pipeline.Options{
		Transport: b.newTransport(),
		Endpoint:  b.settings.Client.Endpoint,
		Logger:    b.logger,
		Metrics:   registry,
	})
	result := make(chan error, 1)
	go func() {
		result <- session.Run(sessionCtx)
	}()

	runErr := waitDrained(sessionCtx, session, result, b.cfg.Timeout)
	if runErr == nil && b.cfg.Interactive {
		runErr = b.interact(sessionCtx, session)
	}
	cancel()
	<-session.Done()

	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	if err := b.writeDocument(doc); err != nil {
		return err
	}
	cat := session.Catalog()
	translate := string(protocol.ActionTranslate)
	b.logger.Info("document written", map[string]string{
		"session":            session.ID(),
		"expressions":        strconv.Itoa(cat.Len()),
		"translated":         strconv.Itoa(cat.Translated()),
		"translate_requests": strconv.FormatInt(registry.ActionCount(translate), 10),
		"translate_failures": strconv.FormatInt(registry.ActionFailures(translate), 10),
		"show_requests":      strconv.FormatInt(registry.ActionCount(string(protocol.ActionShow)), 10),
		"reply_mismatches":   strconv.FormatInt(registry.Snapshot().ReplyMismatches, 10),
	})
	if runErr != nil {
		return channelError("translation incomplete", runErr)
	}
	return nil
}

func (b *bridge) newTransport() *channel.Channel {
	return channel.New(b.settings.Client.Endpoint, channel.Options{
		WriteTimeout: b.settings.Client.WriteTimeout,
		Logger:       b.logger,
	})
}

// waitDrained blocks until every expression has a translation. Run keeps
// going after that, so proxies stay clickable until the caller cancels.
func waitDrained(ctx context.Context, session *pipeline.Session, result <-chan error, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-session.Drained():
		return nil
	case err := <-result:
		select {
		case <-session.Drained():
			return err
		default:
		}
		if err == nil {
			return errClosedEarly
		}
		return err
	case <-expired:
		return fmt.Errorf("timed out after %s in state %s", timeout, session.State())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// interact treats each stdin line as a click: an expression index or a
// proxy element id. It returns at end of input or on "quit".
func (b *bridge) interact(ctx context.Context, session *pipeline.Session) error {
	fmt.Fprintf(b.errOut, "%d expressions translated; enter an index or proxy id to show it, quit to finish\n", session.Catalog().Translated())
	scanner := bufio.NewScanner(b.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "q" || line == "quit" {
			return nil
		}
		var err error
		if index, convErr := strconv.Atoi(line); convErr == nil {
			err = session.Click(ctx, index)
		} else {
			err = session.ClickElement(ctx, line)
		}
		switch {
		case err == nil:
			fmt.Fprintf(b.errOut, "shown %s\n", line)
		case errors.Is(err, pipeline.ErrSessionEnded):
			// Every expression was already translated; only disclosure is lost.
			b.logger.Warn("channel closed, interactive mode ended", map[string]string{"click": line})
			return nil
		case errors.Is(err, context.Canceled):
			return err
		default:
			fmt.Fprintf(b.errOut, "cannot show %s: %v\n", line, err)
		}
	}
	return scanner.Err()
}

// watch re-runs the translation after every settled change of the input.
// Failures of a single run are logged and watching continues.
func (b *bridge) watch(ctx context.Context) error {
	fileWatcher, err := watcher.WatchFile(b.cfg.InputPath, watcher.Options{
		Logger:   b.logger,
		Debounce: b.settings.Client.WatchDebounce,
	})
	if err != nil {
		return documentError("watch "+b.cfg.InputPath, err)
	}
	defer fileWatcher.Close()
	b.logger.Info("watching document", map[string]string{"path": b.cfg.InputPath})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-fileWatcher.Events():
			b.logger.Debug("document changed", map[string]string{
				"path": event.Path,
				"op":   event.Op.String(),
			})
			if err := b.translateOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.logger.Warn("translation failed", map[string]string{"error": err.Error()})
			}
		}
	}
}

func (b *bridge) readDocument() (dom.Document, error) {
	kind, err := b.documentKind()
	if err != nil {
		return nil, documentError("document kind", err)
	}
	var reader io.Reader = b.in
	if !b.cfg.fromStdin() {
		file, err := os.Open(b.cfg.InputPath)
		if err != nil {
			return nil, documentError("open document", err)
		}
		defer file.Close()
		reader = file
	}
	doc, err := dom.Parse(reader, kind)
	if err != nil {
		return nil, documentError("parse document", err)
	}
	return doc, nil
}

// documentKind prefers -kind, then the file extension, then the config.
func (b *bridge) documentKind() (dom.Kind, error) {
	if b.cfg.Kind != "" {
		return dom.ParseKind(b.cfg.Kind)
	}
	if !b.cfg.fromStdin() {
		return dom.KindFromPath(b.cfg.InputPath), nil
	}
	return dom.ParseKind(b.settings.Client.Kind)
}

func (b *bridge) writeDocument(doc dom.Document) error {
	var rendered bytes.Buffer
	if err := doc.Render(&rendered); err != nil {
		return documentError("render document", err)
	}
	if b.cfg.OutputPath == "" {
		if _, err := b.out.Write(rendered.Bytes()); err != nil {
			return documentError("write document", err)
		}
		return nil
	}
	if err := fsutil.WriteFileAtomic(b.cfg.OutputPath, rendered.Bytes(), 0o644); err != nil {
		return documentError("write document", err)
	}
	return nil
}

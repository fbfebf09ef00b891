// Package reader discovers PC/SC smart card readers and waits for token
// insertion. Exchanging commands with the card is left to the session layer.
package reader

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ebfe/scard"
	"github.com/samber/lo"

	"github.com/go-ctap/pivman/pkg/options"
)

// ErrNoReader means no connected reader matched the query.
var ErrNoReader = errors.New("reader: no matching reader")

// Info describes one connected reader.
type Info struct {
	Name    string
	Present bool
}

// Enumerate yields connected readers and whether each holds a card.
func Enumerate(opts ...options.Option) iter.Seq2[Info, error] {
	o := options.NewOptions(opts...)

	return func(yield func(Info, error) bool) {
		sc, err := scard.EstablishContext()
		if err != nil {
			yield(Info{}, err)
			return
		}
		defer func() {
			_ = sc.Release()
		}()

		names, err := sc.ListReaders()
		if err != nil {
			if !errors.Is(err, scard.ErrNoReadersAvailable) {
				yield(Info{}, err)
			}
			return
		}

		states := lo.Map(names, func(name string, _ int) scard.ReaderState {
			return scard.ReaderState{
				Reader:       name,
				CurrentState: scard.StateUnaware,
			}
		})
		if err := sc.GetStatusChange(states, 0); err != nil && !errors.Is(err, scard.ErrTimeout) {
			yield(Info{}, err)
			return
		}

		o.Logger.Debug("enumerated readers", slog.Int("count", len(states)))
		for _, rs := range states {
			info := Info{
				Name:    rs.Reader,
				Present: rs.EventState&scard.StatePresent != 0,
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

// List collects Enumerate into a slice.
func List(opts ...options.Option) ([]Info, error) {
	infos := make([]Info, 0)
	for info, err := range Enumerate(opts...) {
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// Find picks a reader by index or name substring, the convention most PC/SC
// tools follow.
func Find(infos []Info, query string) (Info, error) {
	if len(infos) == 0 {
		return Info{}, ErrNoReader
	}
	if query == "" {
		return infos[0], nil
	}

	if idx, err := strconv.Atoi(query); err == nil {
		if idx >= 0 && idx < len(infos) {
			return infos[idx], nil
		}
		return Info{}, ErrNoReader
	}

	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name), strings.ToLower(query)) {
			return info, nil
		}
	}
	return Info{}, ErrNoReader
}

// WaitForCard blocks until a card appears in a reader matching query (any
// reader when empty). It returns the reader's name.
func WaitForCard(ctx context.Context, query string, opts ...options.Option) (string, error) {
	o := options.NewOptions(opts...)

	sc, err := scard.EstablishContext()
	if err != nil {
		return "", err
	}
	defer func() {
		_ = sc.Release()
	}()

	o.Logger.Debug("waiting for card", slog.String("query", query))
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		names, err := sc.ListReaders()
		if err != nil && !errors.Is(err, scard.ErrNoReadersAvailable) {
			return "", err
		}
		if query != "" {
			names = lo.Filter(names, func(name string, _ int) bool {
				return strings.Contains(strings.ToLower(name), strings.ToLower(query))
			})
		}
		if len(names) == 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		states := lo.Map(names, func(name string, _ int) scard.ReaderState {
			return scard.ReaderState{
				Reader:       name,
				CurrentState: scard.StateUnaware,
			}
		})
		if err := sc.GetStatusChange(states, time.Second); err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			return "", err
		}

		for _, rs := range states {
			if rs.EventState&scard.StatePresent != 0 {
				o.Logger.Debug("card present", slog.String("reader", rs.Reader))
				return rs.Reader, nil
			}
		}
	}
}

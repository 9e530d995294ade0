package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/mailim/tom/internal/config"
)

// IMAPSource is an InboundSource backed by two IMAP connections: a "store"
// client used for search/fetch/flag, and a "listener" client kept in IDLE,
// per the two-session split named for the inbound listener.
type IMAPSource struct {
	store    *imapclient.Client
	listener *imapclient.Client
	logger   *slog.Logger

	mu     sync.Mutex
	exists chan struct{}
}

type unilateralHandler struct{ notify chan struct{} }

func (h *unilateralHandler) Mailbox(data *imapclient.UnilateralDataMailbox) {
	if data.NumMessages != nil {
		select {
		case h.notify <- struct{}{}:
		default:
		}
	}
}
func (h *unilateralHandler) Expunge(seqNum uint32)                  {}
func (h *unilateralHandler) Fetch(msg *imapclient.FetchMessageData) {}

func dialIMAP(ctx context.Context, cred config.Credential, options *imapclient.Options) (*imapclient.Client, error) {
	addr := net.JoinHostPort(cred.Host, fmt.Sprintf("%d", cred.Port))
	var client *imapclient.Client
	var err error
	if cred.TLS {
		client, err = imapclient.DialTLS(addr, options)
	} else {
		client, err = imapclient.DialInsecure(addr, options)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: imap dial: %w", err)
	}
	if err := client.Login(cred.Username, cred.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: imap login: %w", err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: imap select INBOX: %w", err)
	}
	return client, nil
}

// DialIMAP opens the store and listener sessions against cred.
func DialIMAP(ctx context.Context, cred config.Credential, logger *slog.Logger) (*IMAPSource, error) {
	store, err := dialIMAP(ctx, cred, nil)
	if err != nil {
		return nil, err
	}

	notify := make(chan struct{}, 1)
	listenerOpts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: (&unilateralHandler{notify: notify}).Mailbox,
		},
	}
	listener, err := dialIMAP(ctx, cred, listenerOpts)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &IMAPSource{store: store, listener: listener, logger: logger, exists: notify}, nil
}

// IdleWait implements InboundSource.
func (s *IMAPSource) IdleWait(ctx context.Context, timeout time.Duration) (WakeReason, error) {
	idleCmd, err := s.listener.Idle()
	if err != nil {
		return WakeCancelled, fmt.Errorf("transport: imap idle: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.exists:
		idleCmd.Close()
		_ = idleCmd.Wait()
		return WakeNew, nil
	case <-timer.C:
		idleCmd.Close()
		_ = idleCmd.Wait()
		return WakeTimeout, nil
	case <-ctx.Done():
		idleCmd.Close()
		_ = idleCmd.Wait()
		return WakeCancelled, ctx.Err()
	}
}

// SearchUnseen implements InboundSource.
func (s *IMAPSource) SearchUnseen(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.store.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("transport: imap search: %w", err)
	}
	uids := make([]uint32, 0, len(data.AllUIDs()))
	for _, uid := range data.AllUIDs() {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

// FetchBodies implements InboundSource.
func (s *IMAPSource) FetchBodies(ctx context.Context, uids []uint32) (map[uint32][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32][]byte, len(uids))
	for _, uid := range uids {
		uidSet := imap.UIDSetNum(imap.UID(uid))
		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchCmd := s.store.Fetch(uidSet, &imap.FetchOptions{
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})
		msg := fetchCmd.Next()
		if msg == nil {
			fetchCmd.Close()
			continue
		}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			bs, ok := item.(imapclient.FetchItemDataBodySection)
			if !ok || bs.Literal == nil {
				continue
			}
			raw, err := io.ReadAll(bs.Literal)
			if err != nil {
				fetchCmd.Close()
				return nil, fmt.Errorf("transport: imap fetch uid %d: %w", uid, err)
			}
			out[uid] = raw
		}
		fetchCmd.Close()
	}
	return out, nil
}

// MarkSeen implements InboundSource.
func (s *IMAPSource) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nums := make([]imap.UID, len(uids))
	for i, uid := range uids {
		nums[i] = imap.UID(uid)
	}
	uidSet := imap.UIDSetNum(nums...)
	if _, err := s.store.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}, nil).Collect(); err != nil {
		return fmt.Errorf("transport: imap mark seen: %w", err)
	}
	return nil
}

// Close closes both IMAP sessions' connections without sending LOGOUT.
func (s *IMAPSource) Close() error {
	s.listener.Close()
	return s.store.Close()
}

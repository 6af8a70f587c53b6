package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/model"
)

const (
	// backfillWindow is how far back the initial per-connection search
	// reaches.
	backfillWindow = 30 * 24 * time.Hour

	// reconnectDelay is the fixed pause before a dropped session is
	// reopened. Reconnection is unconditional and unbounded.
	reconnectDelay = 5 * time.Second

	// idleRefresh bounds one IDLE period; servers are allowed to drop
	// connections idling past ~30 minutes (RFC 2177).
	idleRefresh = 25 * time.Minute
)

// MessageSink receives fetched raw messages for processing. Implemented
// by the processing pipeline.
type MessageSink interface {
	ProcessRaw(ctx context.Context, raw *RawMessage) error
}

// Connector owns one mailbox's long-lived IMAP session: connect,
// backfill, idle for pushed new-mail notifications, fetch, and reconnect
// on any session end. It runs until Stop.
type Connector struct {
	account model.AccountConfig
	sink    MessageSink
	log     *logrus.Entry
	stopCh  chan struct{}
}

// NewConnector creates a connector for one configured account.
func NewConnector(
	account model.AccountConfig,
	sink MessageSink,
	log *logrus.Entry,
) *Connector {
	return &Connector{
		account: account,
		sink:    sink,
		log:     log.WithField("account", account.Name),
		stopCh:  make(chan struct{}),
	}
}

// Run drives the reconnect loop. Every session end, clean or not,
// schedules a fresh connect attempt after a fixed delay. Run returns only
// after Stop is called.
func (c *Connector) Run() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.runSession(); err != nil {
			c.log.WithError(err).Error("imap session ended")
		} else {
			c.log.Info("imap session closed")
		}

		select {
		case <-c.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// Stop asks the connector to end its session and return from Run.
func (c *Connector) Stop() {
	close(c.stopCh)
}

// runSession performs one full connection lifecycle: connect and
// authenticate, select the target folder, backfill the trailing window,
// then alternate between idle-wait and unseen-message fetches until the
// session drops or Stop is called.
func (c *Connector) runSession() error {
	newMail := make(chan struct{}, 1)

	client, err := c.connect(newMail)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Login(c.account.Username, c.account.Password).Wait(); err != nil {
		return fmt.Errorf("imap login %s: %w", c.account.Username, err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.account.Folder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", c.account.Folder, err)
	}

	c.log.Info("imap session established")

	// Backfill: everything received within the trailing window.
	since := time.Now().Add(-backfillWindow)
	if err := c.searchAndProcess(client, &imap.SearchCriteria{Since: since}); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	// Idle/fetch loop.
	for {
		idleCmd, err := client.Idle()
		if err != nil {
			return fmt.Errorf("entering idle: %w", err)
		}

		stopping := false
		select {
		case <-c.stopCh:
			stopping = true
		case <-newMail:
		case <-time.After(idleRefresh):
		}

		if err := idleCmd.Close(); err != nil {
			return fmt.Errorf("leaving idle: %w", err)
		}
		if err := idleCmd.Wait(); err != nil {
			return fmt.Errorf("idle terminated: %w", err)
		}

		if stopping {
			return nil
		}

		// Fetch whatever arrived while idling.
		unseen := &imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}
		if err := c.searchAndProcess(client, unseen); err != nil {
			return fmt.Errorf("incremental fetch: %w", err)
		}
	}
}

// connect dials the IMAP server with a unilateral-data handler that turns
// server EXISTS pushes into new-mail signals.
func (c *Connector) connect(newMail chan<- struct{}) (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.account.Host, strconv.Itoa(c.account.Port))

	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case newMail <- struct{}{}:
				default:
				}
			},
		},
	}

	var client *imapclient.Client
	var err error
	if c.account.UseTLS {
		options.TLSConfig = &tls.Config{ServerName: c.account.Host}
		client, err = imapclient.DialTLS(addr, options)
	} else {
		client, err = imapclient.DialStartTLS(addr, options)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}
	return client, nil
}

// searchAndProcess searches the selected folder and feeds every result
// through the sink, in the order the server returns them. A sink failure
// for one message is logged and does not abort the rest of the batch; a
// protocol failure aborts only this batch.
func (c *Connector) searchAndProcess(
	client *imapclient.Client,
	criteria *imap.SearchCriteria,
) error {
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}
	c.log.WithField("count", len(uids)).Info("fetching messages")

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOptions)
	defer fetchCmd.Close()

	fetchedAt := time.Now()
	ctx := context.Background()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			c.log.WithError(err).Warn("skipping uncollectable message")
			continue
		}

		raw := &RawMessage{
			Account:      c.account.Name,
			Folder:       c.account.Folder,
			SeqNum:       buf.SeqNum,
			UID:          buf.UID,
			Envelope:     buf.Envelope,
			Flags:        buf.Flags,
			Body:         buf.FindBodySection(bodySection),
			InternalDate: buf.InternalDate,
			FetchedAt:    fetchedAt,
		}

		if err := c.sink.ProcessRaw(ctx, raw); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"uid":    uint32(buf.UID),
				"seqnum": buf.SeqNum,
			}).Error("processing message failed")
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}
	return nil
}

package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

const fetchBatchSize = 50

// session is the part of *client.Client the adapter talks to.
type session interface {
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

type dialFunc func(ctx context.Context, account *models.Account) (session, error)

type Client struct {
	dialTimeout time.Duration
	maxInitial  int
	dial        dialFunc
}

func NewClient(cfg *config.ProviderConfig) *Client {
	c := &Client{
		dialTimeout: cfg.ImapDialTimeout,
		maxInitial:  cfg.ImapMaxInitialMessages,
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = 30 * time.Second
	}
	if c.maxInitial <= 0 {
		c.maxInitial = 500
	}
	c.dial = c.connect
	return c
}

// connect dials and logs in. The connection is torn down when ctx ends,
// which unblocks any pending command.
func (c *Client) connect(ctx context.Context, account *models.Account) (session, error) {
	host := account.Setting("host")
	if host == "" {
		return nil, mailsync_errors.NewAuthError(errors.New("imap host not configured"))
	}
	port := account.Setting("port")
	if port == "" {
		port = "993"
	}
	username := account.Setting("username")
	if username == "" {
		username = account.EmailAddress
	}
	addr := net.JoinHostPort(host, port)
	dialer := &net.Dialer{Timeout: c.dialTimeout, KeepAlive: 30 * time.Second}

	var (
		imapClient *client.Client
		err        error
	)
	if account.Setting("tls") == "false" {
		imapClient, err = client.DialWithDialer(dialer, addr)
	} else {
		imapClient, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	}
	if err != nil {
		return nil, mailsync_errors.NewTransientError(errors.Wrapf(err, "failed to connect to %s", addr), 0)
	}

	if deadline, ok := ctx.Deadline(); ok {
		imapClient.Timeout = time.Until(deadline)
	}
	go func() {
		<-ctx.Done()
		_ = imapClient.Terminate()
	}()

	if err := imapClient.Login(username, account.Token); err != nil {
		_ = imapClient.Logout()
		if isNetworkError(err) || ctx.Err() != nil {
			return nil, mailsync_errors.NewTransientError(errors.Wrap(err, "login interrupted"), 0)
		}
		return nil, mailsync_errors.NewAuthError(err)
	}
	return imapClient, nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) ListInitial(ctx context.Context, account *models.Account) (*dto.RemoteBatch, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapClient.ListInitial")
	defer span.Finish()
	tracing.SetDefaultProviderSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	batch, err := c.collect(ctx, account, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return batch, nil
}

func (c *Client) ListDelta(ctx context.Context, account *models.Account, token string) (*dto.RemoteBatch, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapClient.ListDelta")
	defer span.Finish()
	tracing.SetDefaultProviderSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	previous, err := decodeCursor(token)
	if err != nil {
		return nil, mailsync_errors.NewCursorExpiredError(err)
	}

	batch, err := c.collect(ctx, account, previous)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return batch, nil
}

func (c *Client) collect(ctx context.Context, account *models.Account, previous cursor) (*dto.RemoteBatch, error) {
	sess, err := c.dial(ctx, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Logout() }()

	folders, err := resolveFolders(sess, account)
	if err != nil {
		return nil, c.wrap(ctx, err)
	}

	batch := &dto.RemoteBatch{}
	next := cursor{}
	for _, f := range folders {
		var prev *folderCursor
		if previous != nil {
			if fc, ok := previous[f.name]; ok {
				prev = &fc
			}
		}
		messages, fc, err := c.syncFolder(sess, f, prev)
		if err != nil {
			return nil, c.wrap(ctx, err)
		}
		batch.Messages = append(batch.Messages, messages...)
		next[f.name] = fc
	}

	token, err := next.encode()
	if err != nil {
		return nil, err
	}
	batch.NextToken = token
	return batch, nil
}

// wrap classifies an error raised mid-session. Anything already classified
// passes through; the rest is connection trouble.
func (c *Client) wrap(ctx context.Context, err error) error {
	if mailsync_errors.IsCursorExpired(err) || mailsync_errors.IsAuth(err) || mailsync_errors.IsTransient(err) {
		return err
	}
	if ctx.Err() != nil {
		return mailsync_errors.NewTransientError(ctx.Err(), 0)
	}
	return mailsync_errors.NewTransientError(err, 0)
}

func (c *Client) syncFolder(sess session, f folder, prev *folderCursor) ([]dto.RemoteMessage, folderCursor, error) {
	status, err := sess.Select(f.name, true)
	if err != nil {
		return nil, folderCursor{}, errors.Wrapf(err, "failed to select %s", f.name)
	}

	next := folderCursor{UIDValidity: status.UidValidity}
	if prev != nil {
		if prev.UIDValidity != status.UidValidity {
			return nil, folderCursor{}, mailsync_errors.NewCursorExpiredError(
				fmt.Errorf("uidvalidity of %s changed from %d to %d", f.name, prev.UIDValidity, status.UidValidity))
		}
		next.LastUID = prev.LastUID
	}

	criteria := imap.NewSearchCriteria()
	if prev != nil {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(prev.LastUID+1, 0)
	}
	found, err := sess.UidSearch(criteria)
	if err != nil {
		return nil, folderCursor{}, errors.Wrapf(err, "failed to search %s", f.name)
	}

	uids := newerThan(found, next.LastUID)
	if prev == nil && len(uids) > c.maxInitial {
		uids = uids[len(uids)-c.maxInitial:]
	}
	if len(uids) == 0 {
		return nil, next, nil
	}

	messages, err := fetch(sess, f, status.UidValidity, uids)
	if err != nil {
		return nil, folderCursor{}, err
	}
	next.LastUID = uids[len(uids)-1]
	return messages, next, nil
}

// newerThan keeps uids above last in ascending order. A "last:*" search
// always returns the highest uid even when it is not new.
func newerThan(uids []uint32, last uint32) []uint32 {
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > last {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func fetch(sess session, f folder, uidValidity uint32, uids []uint32) ([]dto.RemoteMessage, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	var out []dto.RemoteMessage
	for start := 0; start < len(uids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[start:end]...)

		ch := make(chan *imap.Message, fetchBatchSize)
		done := make(chan error, 1)
		go func() {
			done <- sess.UidFetch(seqSet, items, ch)
		}()
		for msg := range ch {
			out = append(out, toRemote(msg, section, f, uidValidity))
		}
		if err := <-done; err != nil {
			return nil, errors.Wrapf(err, "failed to fetch from %s", f.name)
		}
	}
	return out, nil
}

type folder struct {
	name  string
	label string
}

// resolveFolders maps INBOX, Sent and Drafts to server folder names, using
// account settings first, then special-use attributes, then common names.
// Folders the server does not have are skipped.
func resolveFolders(sess session, account *models.Account) ([]folder, error) {
	ch := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- sess.List("", "*", ch)
	}()

	existing := map[string]bool{}
	byAttr := map[string]string{}
	for info := range ch {
		existing[strings.ToLower(info.Name)] = true
		for _, attr := range info.Attributes {
			if _, ok := byAttr[attr]; !ok {
				byAttr[attr] = info.Name
			}
		}
	}
	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "failed to list folders")
	}

	pick := func(setting, attr string, fallbacks ...string) string {
		if name := account.Setting(setting); name != "" && existing[strings.ToLower(name)] {
			return name
		}
		if name, ok := byAttr[attr]; ok {
			return name
		}
		for _, name := range fallbacks {
			if existing[strings.ToLower(name)] {
				return name
			}
		}
		return ""
	}

	folders := []folder{{name: "INBOX", label: "inbox"}}
	if name := pick("sent_folder", imap.SentAttr, "Sent", "Sent Items", "Sent Messages", "[Gmail]/Sent Mail"); name != "" {
		folders = append(folders, folder{name: name, label: "sent"})
	}
	if name := pick("drafts_folder", imap.DraftsAttr, "Drafts", "[Gmail]/Drafts"); name != "" {
		folders = append(folders, folder{name: name, label: "draft"})
	}
	return folders, nil
}

package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher downloads files over FTP. Credentials come from the URL
// userinfo; without them the fetcher logs in anonymously.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// ftpEndpoint splits an ftp:// location into a dial address (port 21 by
// default), the remote path and login credentials.
func ftpEndpoint(location string) (addr, path, user, pass string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "ftp: parse url")
	}
	if u.Scheme != SchemeFTP {
		return "", "", "", "", eris.Errorf("ftp: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", "", "", eris.Errorf("ftp: no file path in %s", u.Redacted())
	}

	port := u.Port()
	if port == "" {
		port = "21"
	}
	user, pass = "anonymous", "anonymous@"
	if name := u.User.Username(); name != "" {
		user = name
		pass, _ = u.User.Password()
	}
	return net.JoinHostPort(u.Hostname(), port), u.Path, user, pass, nil
}

// ftpBody streams a RETR response. Close finishes the transfer and ends the
// session.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b ftpBody) Close() error {
	err := b.Response.Close()
	if qerr := b.conn.Quit(); qerr != nil && err == nil {
		return eris.Wrap(qerr, "ftp: quit")
	}
	if err != nil {
		return eris.Wrap(err, "ftp: finish transfer")
	}
	return nil
}

// Download opens a session, logs in and starts retrieving the file. The
// caller must close the body to release the connection.
func (f *FTPFetcher) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	addr, path, user, pass, err := ftpEndpoint(location)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "fetcher.ftp"), zap.String("addr", addr))
	log.Debug("ftp: connecting", zap.String("path", path))

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", addr)
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp: login as %s", user)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp: retrieve %s", path)
	}
	return ftpBody{Response: resp, conn: conn}, nil
}

package client

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"

	"framedftp/ftperr"
)

// FTPSource names a file on a plain FTP server.
type FTPSource struct {
	Addr     string
	User     string
	Password string
	Path     string
}

// ImportFromFTP copies a file from a standard FTP server onto this client's
// server as remoteName. The file is spooled to a local temporary file first,
// since a frame needs the full length and checksum up front.
func (c *Client) ImportFromFTP(ctx context.Context, src FTPSource, remoteName string) (Stats, error) {
	log := c.log.WithFields(logrus.Fields{
		"function": "ImportFromFTP",
		"source":   src.Addr,
		"path":     src.Path,
	})
	if remoteName == "" {
		remoteName = path.Base(src.Path)
	}
	if src.User == "" {
		src.User = "anonymous"
		if src.Password == "" {
			src.Password = "anonymous"
		}
	}

	conn, err := ftp.Dial(src.Addr, ftp.DialWithTimeout(c.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return Stats{}, ftperr.Wrap(ftperr.KindIO, "import", err)
	}
	defer conn.Quit()

	if err := conn.Login(src.User, src.Password); err != nil {
		return Stats{}, ftperr.Wrap(ftperr.KindAuthentication, "import", err)
	}

	resp, err := conn.Retr(src.Path)
	if err != nil {
		return Stats{}, ftperr.Wrap(ftperr.KindNotFound, "import", err)
	}

	spool, err := os.CreateTemp(c.opts.Transfer.SpoolDir, "import-*.spool")
	if err != nil {
		resp.Close()
		return Stats{}, ftperr.FromFS("spool", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	start := time.Now()
	size, err := io.Copy(spool, resp)
	if closeErr := resp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return Stats{}, ftperr.Wrap(ftperr.KindIO, "import", err)
	}
	log.WithFields(logrus.Fields{"bytes": size, "duration": time.Since(start)}).Debug("[IMPORT] source downloaded")

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return Stats{}, ftperr.FromFS("spool", err)
	}
	stats, err := c.Store(ctx, remoteName, spool, size)
	if err != nil {
		return stats, err
	}
	log.WithFields(logrus.Fields{"bytes": stats.Bytes, "remote": remoteName}).Info("[IMPORT] file imported")
	return stats, nil
}

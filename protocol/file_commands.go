package protocol

import (
	"fmt"
	"io/fs"
	"path"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Directory Commands

// HandlePWD - Print working directory
func (h *CommandHandler) HandlePWD() {
	h.withAuth(func() {
		h.session.SendResponse(CodePathCreated, fmt.Sprintf(`"%s" is the current directory`, h.session.cwd))
	})
}

// HandleCWD - Change working directory. On failure cwd is unchanged.
func (h *CommandHandler) HandleCWD(dir string) {
	h.withAuth(func() {
		h.withResolvedDir(dir, func(virtual, _ string) {
			h.session.cwd = virtual
			h.session.log.WithField("cwd", virtual).Debug("[DIR] changed directory")
			h.session.SendResponse(CodeFileAction, fmt.Sprintf(`CWD command successful. "%s" is current directory`, virtual))
		})
	})
}

// HandleCDUP - Change to parent directory. At "/" it stays at "/".
func (h *CommandHandler) HandleCDUP() {
	h.withAuth(func() {
		if h.session.cwd == "/" {
			h.session.SendResponse(CodeFileAction, `CWD command successful. "/" is current directory`)
			return
		}
		h.HandleCWD(path.Dir(h.session.cwd))
	})
}

// HandleLIST - Directory listing, sent on the control channel as one
// multi-line reply.
func (h *CommandHandler) HandleLIST(dir string) {
	h.withAuth(func() {
		s := h.session
		virtual, infos, err := s.root.ReadDir(s.cwd, dir)
		if err != nil {
			s.SendError(err)
			return
		}

		lines := make([]string, 0, len(infos))
		for _, info := range infos {
			lines = append(lines, FormatEntry(info))
		}

		s.SendMultiline(CodeFileAction, "Listing of "+virtual, lines,
			fmt.Sprintf("End of listing (%d entries)", len(lines)))
		s.log.WithFields(logrus.Fields{"dir": virtual, "entries": len(lines)}).Debug("[LIST] directory listing sent")
	})
}

// FormatEntry renders one listing line in ls -l style.
func FormatEntry(info fs.FileInfo) string {
	perms := "-rw-r--r--"
	if info.IsDir() {
		perms = "drwxr-xr-x"
	}
	return fmt.Sprintf("%s %3d %-8s %-8s %8d %s %s",
		perms, 1, "ftp", "ftp", info.Size(),
		info.ModTime().Format("Jan 02 15:04"), info.Name())
}

// File Management Commands

// HandleSIZE - File size in bytes
func (h *CommandHandler) HandleSIZE(name string) {
	h.withAuth(func() {
		_, _, info, err := h.session.root.ResolveFile(h.session.cwd, name)
		if err != nil {
			h.session.SendError(err)
			return
		}
		h.session.SendResponse(CodeSize, strconv.FormatInt(info.Size(), 10))
	})
}

// HandleMKD - Create directory
func (h *CommandHandler) HandleMKD(name string) {
	h.withAuth(func() {
		virtual, err := h.session.root.Mkdir(h.session.cwd, name)
		if err != nil {
			h.session.SendError(err)
			return
		}
		h.session.log.WithField("dir", virtual).Info("[DIR] directory created")
		h.session.SendResponse(CodePathCreated, fmt.Sprintf(`"%s" directory created`, virtual))
	})
}

// HandleDELE - Delete file
func (h *CommandHandler) HandleDELE(name string) {
	h.withAuth(func() {
		virtual, err := h.session.root.Remove(h.session.cwd, name)
		if err != nil {
			h.session.SendError(err)
			return
		}
		h.session.log.WithField("path", virtual).Info("[FILE] file deleted")
		h.session.SendResponse(CodeFileAction, "File deleted")
	})
}

//go:build linux
// +build linux

package fuse

import (
	"context"
	"io"
	"os"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

// imageFS serves one read-only file backed by a recovered-mapping View.
type imageFS struct {
	view *View
}

func (f *imageFS) Root() (fs.Node, error) {
	return &dir{fs: f}, nil
}

type dir struct {
	fs *imageFS
}

func (*dir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0555
	return nil
}

func (d *dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if name == ImageName {
		return imageFile{view: d.fs.view}, nil
	}
	return nil, fuse.ENOENT
}

func (d *dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	return []fuse.Dirent{
		{Inode: 1, Name: ImageName, Type: fuse.DT_File},
	}, nil
}

type imageFile struct {
	view *View
}

func (f imageFile) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = 0444
	a.Size = f.view.Size()
	a.Mtime = time.Now()
	return nil
}

func (f imageFile) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	size := uint64(req.Size)
	offset := uint64(req.Offset)

	if offset >= f.view.Size() {
		resp.Data = resp.Data[:0]
		return nil
	}
	if offset+size > f.view.Size() {
		size = f.view.Size() - offset
	}

	buf := make([]byte, size)
	n, err := f.view.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return err
	}

	resp.Data = buf[:n]
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/ncw/swift/v2"
	"github.com/pkg/errors"
)

type sft struct {
	connection *swift.Connection
	container  string
}

// SwiftOptions holds the connection settings of the Swift backend.
type SwiftOptions struct {
	AuthURL   string
	Username  string
	APIKey    string
	Domain    string
	Tenant    string
	Region    string
	Container string
}

// NewSwift returns a new OpenStack Swift backend.
func NewSwift(opts SwiftOptions) Backend {
	return &sft{
		connection: &swift.Connection{
			AuthUrl:  opts.AuthURL,
			UserName: opts.Username,
			ApiKey:   opts.APIKey,
			Domain:   opts.Domain,
			Tenant:   opts.Tenant,
			Region:   opts.Region,
		},
		container: opts.Container,
	}
}

func (b *sft) Name() string {
	return "swift"
}

func (b *sft) PutPart(upload string, part int, r io.Reader) (int64, error) {
	ctx := context.Background()
	if err := b.prepare(ctx); err != nil {
		return 0, err
	}

	wc, err := b.connection.ObjectCreate(ctx, b.container, b.partname(upload, part), false, "", "application/octet-stream", nil)
	if err != nil {
		return 0, errors.Wrap(err, "could not create part object")
	}

	n, err := io.Copy(wc, r)
	if err != nil {
		wc.Close()
		return n, errors.Wrap(err, "could not write part object")
	}

	err = wc.Close()
	return n, errors.Wrap(err, "could not close part object")
}

func (b *sft) CompleteUpload(upload string) (int64, error) {
	ctx := context.Background()
	if err := b.prepare(ctx); err != nil {
		return 0, err
	}

	names, err := b.partnames(ctx, upload)
	if err != nil {
		return 0, err
	}

	//

	wc, err := b.connection.ObjectCreate(ctx, b.container, b.objectname(upload), false, "", "application/octet-stream", nil)
	if err != nil {
		return 0, errors.Wrap(err, "could not create object")
	}

	var size int64
	for _, name := range names {
		rc, _, err := b.connection.ObjectOpen(ctx, b.container, name, false, nil)
		if err != nil {
			wc.Close()
			return size, errors.Wrap(err, "could not open part object")
		}

		n, err := io.Copy(wc, rc)
		rc.Close()
		size += n
		if err != nil {
			wc.Close()
			return size, errors.Wrap(err, "could not concatenate part object")
		}
	}

	if err := wc.Close(); err != nil {
		return size, errors.Wrap(err, "could not close object")
	}

	for _, name := range names {
		if err := b.connection.ObjectDelete(ctx, b.container, name); err != nil {
			return size, errors.Wrap(err, "could not remove part object")
		}
	}
	return size, nil
}

func (b *sft) AbortUpload(upload string) error {
	ctx := context.Background()
	if err := b.prepare(ctx); err != nil {
		return err
	}

	names, err := b.partnames(ctx, upload)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := b.connection.ObjectDelete(ctx, b.container, name); err != nil {
			return errors.Wrap(err, "could not remove part object")
		}
	}
	return nil
}

func (b *sft) Reader(upload string) (io.ReadCloser, error) {
	ctx := context.Background()
	if err := b.prepare(ctx); err != nil {
		return nil, err
	}

	rc, _, err := b.connection.ObjectOpen(ctx, b.container, b.objectname(upload), false, nil)
	return rc, errors.Wrap(err, "could not open object")
}

func (b *sft) Remove(upload string) error {
	ctx := context.Background()
	if err := b.prepare(ctx); err != nil {
		return err
	}

	err := b.connection.ObjectDelete(ctx, b.container, b.objectname(upload))
	if err != nil && err != swift.ObjectNotFound {
		return errors.Wrap(err, "could not delete object")
	}
	return nil
}

func (b *sft) Cleanup() error {
	// Parts are removed by CompleteUpload and AbortUpload.
	return nil
}

func (b *sft) prepare(ctx context.Context) error {
	if !b.connection.Authenticated() {
		if err := b.connection.Authenticate(ctx); err != nil {
			return errors.Wrap(err, "could not authenticate to swift")
		}
	}

	err := b.connection.ContainerCreate(ctx, b.container, nil)
	return errors.Wrap(err, "could not create container")
}

func (b *sft) partnames(ctx context.Context, upload string) ([]string, error) {
	// ObjectNames is lexicographically sorted so part order is preserved.
	names, err := b.connection.ObjectNames(ctx, b.container, &swift.ObjectsOpts{
		Prefix: path.Join(partsdir, upload) + "/",
	})
	return names, errors.Wrap(err, "could not list part objects")
}

func (b *sft) partname(upload string, part int) string {
	return path.Join(partsdir, upload, fmt.Sprintf("%08d", part))
}

func (b *sft) objectname(upload string) string {
	return path.Join(objectsdir, upload)
}

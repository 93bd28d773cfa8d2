package browser

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
)

// Request asks for the contents of one folder of a profile's storage.
type Request struct {
	Collection string
	Alias      string
	Container  string
	Descriptor Descriptor
	Options    ChainOptions

	// What the caller is currently displaying.
	PreviousChain   []ChainNode
	PreviousListing []FileEntry
}

// View is a chain together with the listing of its last node.
type View struct {
	Chain   []ChainNode `json:"chain" yaml:"chain"`
	Listing []FileEntry `json:"listing" yaml:"listing"`
}

// Browser runs folder listings.
type Browser struct {
	lister  gateway.DirectoryLister
	schema  *EnvelopeSchema
	timeout time.Duration
}

// Option configures a Browser.
type Option func(*Browser)

// WithEnvelopeSchema replaces the default response decoding.
func WithEnvelopeSchema(s *EnvelopeSchema) Option {
	return func(b *Browser) { b.schema = s }
}

// WithTimeout bounds each listing call.
func WithTimeout(d time.Duration) Option {
	return func(b *Browser) { b.timeout = d }
}

// New creates a Browser on top of lister.
func New(lister gateway.DirectoryLister, opts ...Option) *Browser {
	b := &Browser{lister: lister}
	for _, opt := range opts {
		opt(b)
	}
	if b.schema == nil {
		b.schema = DefaultEnvelopeSchema()
	}
	return b
}

// ShowFolder builds the chain for req, lists the folder it ends in and
// returns both. On error the caller's chain and listing remain valid; they
// are never modified.
func (b *Browser) ShowFolder(ctx context.Context, req Request) (View, error) {
	chain := BuildChain(req.Container, req.Descriptor, req.PreviousChain, req.PreviousListing, req.Options)
	folder := QueryFolder(chain)

	logger := logging.WithContext(ctx).With(
		zap.String("collection", req.Collection),
		zap.String("alias", req.Alias),
		zap.String("folder", folder),
		zap.Stringer("descriptor", req.Descriptor.Kind),
	)

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	body, err := b.lister.ListDirectory(ctx, gateway.DirectoryQuery{
		Collection: req.Collection,
		Alias:      req.Alias,
		Folder:     folder,
	})
	if err != nil {
		metrics.RecordListing(req.Collection, false)
		logger.Error("directory listing failed", zap.Error(err))
		if _, ok := gateway.AsListing(err); ok {
			return View{}, err
		}
		le := &gateway.ListingError{Message: err.Error(), Err: err}
		if fe, ok := gateway.AsFetch(err); ok {
			le.Status = fe.Status
		}
		return View{}, le
	}

	listing, err := b.schema.Decode(body)
	if err != nil {
		metrics.RecordListing(req.Collection, false)
		logger.Error("directory listing rejected", zap.Error(err))
		return View{}, err
	}

	metrics.RecordListing(req.Collection, true)
	logger.Debug("directory listed", zap.Int("entries", len(listing)), zap.Int("depth", len(chain)))
	return View{Chain: chain, Listing: listing}, nil
}

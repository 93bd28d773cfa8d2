package storage

import (
	"context"

	"github.com/deductiv/export-everything-sub000/internal/storage/s3"
	"github.com/deductiv/export-everything-sub000/internal/storage/smb"
)

// Factory creates the lister for a resolved profile.
type Factory func(ctx context.Context, p Profile) (Lister, error)

// NewFactory returns the default factory. SMB shares are looked up below
// smbMountRoot.
func NewFactory(smbMountRoot string) Factory {
	return func(ctx context.Context, p Profile) (Lister, error) {
		switch p.Collection {
		case "ep_aws_s3":
			return s3.New(ctx, s3.Config{
				Endpoint:      p.Get("endpoint_url"),
				Region:        p.Get("region"),
				AccessKey:     p.Get("credential_username"),
				SecretKey:     p.Get("credential_password"),
				DefaultBucket: p.Get("default_s3_bucket"),
			})
		case "ep_smb":
			return smb.New(smb.Config{
				MountRoot: smbMountRoot,
				Host:      p.Get("host"),
				Share:     p.Get("share_name"),
				Username:  p.Get("credential_username"),
				Password:  p.Get("credential_password"),
				Domain:    p.Get("credential_realm"),
			})
		default:
			return unsupported{}, nil
		}
	}
}

package s3

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeAPI struct {
	inputs  []*s3.ListObjectsV2Input
	pages   []*s3.ListObjectsV2Output
	buckets []types.Bucket
	err     error
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	page := f.pages[len(f.inputs)-1]
	return page, nil
}

func (f *fakeAPI) ListBuckets(context.Context, *s3.ListBucketsInput, ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.ListBucketsOutput{Buckets: f.buckets}, nil
}

func TestListFolder(t *testing.T) {
	mod := time.Unix(1700000000, 0)
	api := &fakeAPI{pages: []*s3.ListObjectsV2Output{
		{
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("t1"),
			CommonPrefixes:        []types.CommonPrefix{{Prefix: aws.String("a/sub/")}},
			Contents: []types.Object{
				{Key: aws.String("a/"), Size: aws.Int64(0)},
				{Key: aws.String("a/one.gz"), Size: aws.Int64(42), LastModified: &mod, Owner: &types.Owner{DisplayName: aws.String("ops")}},
			},
		},
		{
			IsTruncated: aws.Bool(false),
			Contents:    []types.Object{{Key: aws.String("a/two.gz"), Size: aws.Int64(7)}},
		},
	}}
	l := NewWithClient(api, "fallback")

	entries, err := l.List(context.Background(), `/logs\a/`)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	in := api.inputs[0]
	if aws.ToString(in.Bucket) != "logs" || aws.ToString(in.Prefix) != "a/" || aws.ToString(in.Delimiter) != "/" {
		t.Errorf("input = bucket %q prefix %q delimiter %q", aws.ToString(in.Bucket), aws.ToString(in.Prefix), aws.ToString(in.Delimiter))
	}
	if len(api.inputs) != 2 || aws.ToString(api.inputs[1].ContinuationToken) != "t1" {
		t.Errorf("expected a second page request with the continuation token")
	}

	if len(entries) != 3 {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0].ID() != "/logs/a/sub/" || entries[0].Name() != "sub" || !entries[0].IsDir() {
		t.Errorf("folder entry = %v", entries[0])
	}
	file := entries[1]
	if file.ID() != "/logs/a/one.gz" || file["size"] != int64(42) || file["modDate"] != int64(1700000000) || file["owner"] != "ops" {
		t.Errorf("file entry = %v", file)
	}
	if entries[2].ID() != "/logs/a/two.gz" {
		t.Errorf("second page entry = %v", entries[2])
	}
}

func TestListUsesDefaultBucket(t *testing.T) {
	api := &fakeAPI{pages: []*s3.ListObjectsV2Output{{IsTruncated: aws.Bool(false)}}}
	entries, err := NewWithClient(api, "fallback").List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if aws.ToString(api.inputs[0].Bucket) != "fallback" || aws.ToString(api.inputs[0].Prefix) != "" {
		t.Errorf("input = %+v", api.inputs[0])
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %v", entries)
	}
}

func TestListBuckets(t *testing.T) {
	created := time.Unix(1600000000, 0)
	api := &fakeAPI{buckets: []types.Bucket{
		{Name: aws.String("logs"), CreationDate: &created},
		{Name: aws.String("archive")},
	}}
	entries, err := NewWithClient(api, "").List(context.Background(), "/")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID() != "/logs" || entries[0]["modDate"] != int64(1600000000) || !entries[1].IsDir() {
		t.Errorf("entries = %v", entries)
	}
	if _, ok := entries[1]["modDate"]; ok {
		t.Error("bucket without creation date should have no modDate")
	}
}

func TestListError(t *testing.T) {
	api := &fakeAPI{err: errors.New("AccessDenied")}
	if _, err := NewWithClient(api, "b").List(context.Background(), "/b/x/"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRoleFromCallerARN(t *testing.T) {
	got, err := RoleFromCallerARN("arn:aws:sts::800000000000:assumed-role/SplunkInstance_ReadOnly/i-0abc")
	if err != nil {
		t.Fatal(err)
	}
	if got != "arn:aws:iam::800000000000:role/SplunkInstance_ReadOnly" {
		t.Errorf("role = %s", got)
	}
	if _, err := RoleFromCallerARN("arn:aws:iam::1:user"); err == nil {
		t.Error("expected error for non-role caller")
	}
}

func TestConfigUsesInstanceRole(t *testing.T) {
	if !(Config{AccessKey: InstanceRoleKey}).UsesInstanceRole() {
		t.Error("instance role key not detected")
	}
	if (Config{AccessKey: "AKIA"}).UsesInstanceRole() {
		t.Error("static key detected as instance role")
	}
}

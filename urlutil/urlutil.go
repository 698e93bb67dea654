// Package urlutil composes the object-store paths an Icechunk repository
// uses and rewrites virtual-chunk cloud URLs into their https equivalents.
package urlutil

import (
	"fmt"
	"strings"
)

// DefaultS3Region is used for s3:// URLs that carry no explicit region.
const DefaultS3Region = "us-east-1"

// NormaliseRoot ensures root ends with exactly one "/".
func NormaliseRoot(root string) string {
	return strings.TrimRight(root, "/") + "/"
}

// SnapshotURL returns "{root}snapshots/{id}".
func SnapshotURL(root, id string) string {
	return NormaliseRoot(root) + "snapshots/" + id
}

// ManifestURL returns "{root}manifests/{id}".
func ManifestURL(root, id string) string {
	return NormaliseRoot(root) + "manifests/" + id
}

// ChunkURL returns "{root}chunks/{id}".
func ChunkURL(root, id string) string {
	return NormaliseRoot(root) + "chunks/" + id
}

// BranchRefPath returns "refs/branch.{name}/ref.json".
func BranchRefPath(name string) string {
	return fmt.Sprintf("refs/branch.%s/ref.json", name)
}

// TagRefPath returns "refs/tag.{name}/ref.json".
func TagRefPath(name string) string {
	return fmt.Sprintf("refs/tag.%s/ref.json", name)
}

// BranchRefURL returns "{root}refs/branch.{name}/ref.json".
func BranchRefURL(root, name string) string {
	return NormaliseRoot(root) + BranchRefPath(name)
}

// TagRefURL returns "{root}refs/tag.{name}/ref.json".
func TagRefURL(root, name string) string {
	return NormaliseRoot(root) + TagRefPath(name)
}

// TranslateURL rewrites a virtual chunk location into an https URL the
// transport layer can fetch. region is used only for s3:// locations that
// carry no bucket-region hint elsewhere; pass "" to take DefaultS3Region.
func TranslateURL(location, region string) string {
	switch {
	case strings.HasPrefix(location, "gs://"):
		return TranslateGCSURL(location)
	case strings.HasPrefix(location, "s3://"):
		return TranslateS3URL(location, region)
	default:
		return location
	}
}

// TranslateGCSURL rewrites "gs://bucket/key…" to
// "https://storage.googleapis.com/bucket/key…".
func TranslateGCSURL(location string) string {
	rest := strings.TrimPrefix(location, "gs://")
	return "https://storage.googleapis.com/" + rest
}

// TranslateS3URL rewrites "s3://bucket/key…" to
// "https://bucket.s3.{region}.amazonaws.com/key…". An empty region falls
// back to DefaultS3Region.
func TranslateS3URL(location, region string) string {
	if region == "" {
		region = DefaultS3Region
	}
	rest := strings.TrimPrefix(location, "s3://")
	bucket, key, _ := strings.Cut(rest, "/")
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

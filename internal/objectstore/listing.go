package objectstore

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// listBucketResult mirrors the subset of an S3 ListObjectsV2 response this
// client needs: a flat key listing under the dump root.
type listBucketResult struct {
	XMLName  xml.Name `xml:"ListBucketResult"`
	Contents []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

// LatestVersion lists objects under the dump root and returns the
// lexicographically largest YYYYMMDD version directory that has a checksum
// manifest, since Discogs version tags sort chronologically as strings.
func (c *Client) LatestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/?list-type=2", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, req, "latest_version")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &ErrUpstreamUnavailable{Op: "latest_version", Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ErrUpstreamUnavailable{Op: "latest_version", Cause: err}
	}

	var listing listBucketResult
	if err := xml.Unmarshal(body, &listing); err != nil {
		return "", &ErrUpstreamUnavailable{Op: "latest_version", Cause: fmt.Errorf("parse listing: %w", err)}
	}

	versions := make(map[string]bool)
	for _, entry := range listing.Contents {
		if !strings.HasSuffix(entry.Key, "/CHECKSUM.txt") {
			continue
		}
		version := strings.TrimSuffix(entry.Key, "/CHECKSUM.txt")
		if idx := strings.LastIndexByte(version, '/'); idx >= 0 {
			version = version[idx+1:]
		}
		if len(version) == 8 && isDigits(version) {
			versions[version] = true
		}
	}
	if len(versions) == 0 {
		return "", &ErrUpstreamUnavailable{Op: "latest_version", Cause: fmt.Errorf("no CHECKSUM.txt entries found under %s", c.BaseURL)}
	}

	sorted := make([]string, 0, len(versions))
	for v := range versions {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)
	return sorted[len(sorted)-1], nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

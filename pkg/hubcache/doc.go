// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package hubcache maintains a local, content-addressed cache of hub repository
files and downloads into it with resume support.

The on-disk layout is shared with other hub clients on the same machine, so
cached bytes are reused across tools:

	<cache>/models--owner--name/
	    blobs/<etag>                    one byte-bearing copy per unique etag
	    refs/main                       commit hash for each symbolic ref
	    snapshots/<commit>/<file>       symlinks (or copies) into blobs/

# Quick Start

Download a single file into the cache and deliver it to a destination:

	client := hubcache.NewClient(hubcache.DefaultSettings())

	repo, _ := hubcache.ParseRepo("TheBloke/Mistral-7B-GGUF")
	dest, err := client.DownloadFile(context.Background(), hubcache.DownloadRequest{
		Kind:        hubcache.KindModel,
		Repo:        repo,
		Revision:    "main",
		Filename:    "config.json",
		Destination: "./config.json",
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("saved to", dest)

Download a whole revision, filtered by globs:

	paths, err := client.DownloadSnapshot(ctx, hubcache.SnapshotRequest{
		Kind:        hubcache.KindModel,
		Repo:        repo,
		Revision:    "main",
		Destination: "./mistral",
		Globs:       []string{"*.json", "*.safetensors"},
	})

# Resume and concurrency

Interrupted downloads leave a ".incomplete" staging file next to the blob and
resume from its offset on the next call. Concurrent downloads of the same
etag, across goroutines or processes, are serialized from the first staging
write through installation by a per-blob advisory lockfile; the first writer
to take the lock fetches and installs the blob, and later writers find it
installed.

# Configuration

The cache root comes from Settings.CacheDir, HF_HUB_CACHE, HF_HOME/hub, or
~/.cache/huggingface/hub, in that order. Bearer tokens are resolved from
HF_TOKEN, HUGGING_FACE_HUB_TOKEN, and the standard token files; the endpoint
from Settings.Endpoint or HF_ENDPOINT.
*/
package hubcache

// Package pipeline implements C7, the five-phase enrichment orchestrator:
// quick-filter -> parse -> Merkle-diff -> enrich -> store. It is the heart
// of the system, binding hashing (C1), the parser (C2), the Merkle tree
// (C3), the change detector (C4), the embedding contract (C5), and the
// store (C6) behind one driver that the watch driver (C9) and the daemon
// (C10) both feed. Intra-note event ordering is FileChanged < NoteParsed <
// EntityStored < BlocksUpdated < EmbeddingGenerated, per spec §4.7; no
// ordering is guaranteed across distinct notes processed concurrently.
//
// The worker-pool-over-a-job-channel shape is grounded on the teacher's
// batch.Service concurrency pattern (bounded workers draining one queue,
// each doing a full unit of work per job) generalized from "process one
// batch item" to "run one note through all five phases."
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/kittclouds/kiln/internal/changeset"
	"github.com/kittclouds/kiln/internal/config"
	"github.com/kittclouds/kiln/internal/discovery"
	"github.com/kittclouds/kiln/internal/embedding"
	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/hashing"
	"github.com/kittclouds/kiln/internal/merkle"
	"github.com/kittclouds/kiln/internal/parser"
	"github.com/kittclouds/kiln/internal/store"
	"github.com/kittclouds/kiln/internal/watch"
	"golang.org/x/time/rate"
)

// FileReader abstracts reading a candidate file's bytes, so tests can
// supply an in-memory filesystem without touching disk.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// Pipeline is the C7 orchestrator. It owns no lock over the store; all
// store access goes through the Storer interface, which is itself
// single-writer internally (spec §4.6).
type Pipeline struct {
	cfg      config.Config
	st       store.Storer
	bus      *eventbus.Bus
	embedder embedding.Provider
	reader   FileReader

	fingerprints *changeset.Cache

	mu      sync.Mutex
	merkles map[string]*merkle.Tree // last-known tree per path
	paths   map[string]string       // path -> entity id, in-memory index

	jobs   chan job
	wg     sync.WaitGroup
	sub    eventbus.Token
	closed bool

	embedLimiter *rate.Limiter

	candidates *discovery.Registry
	aliases    *discovery.Resolver
}

type job struct {
	ctx  context.Context
	path string
	kind watch.ChangeKind
}

// New constructs a Pipeline. embedder may be embedding.NullProvider{} when
// no enrichment backend is configured; the enrich phase then degrades to
// a no-op and EmbeddingGenerated is never published.
func New(cfg config.Config, st store.Storer, bus *eventbus.Bus, embedder embedding.Provider, reader FileReader) *Pipeline {
	concurrency := cfg.EmbeddingConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	// one batch request per (1/concurrency) second, burst of `concurrency`:
	// caps the sustained embedding call rate independently of how many
	// goroutines the semaphore below lets run concurrently.
	limiter := rate.NewLimiter(rate.Limit(concurrency), concurrency)
	return &Pipeline{
		cfg:          cfg,
		st:           st,
		bus:          bus,
		embedder:     embedder,
		reader:       reader,
		fingerprints: changeset.New(),
		merkles:      make(map[string]*merkle.Tree),
		paths:        make(map[string]string),
		jobs:         make(chan job, 1024),
		embedLimiter: limiter,
		candidates:   discovery.NewRegistry(cfg.PromotionThreshold),
		aliases:      discovery.NewResolver(),
	}
}

// Start spawns cfg.WorkerCount workers and subscribes to FileChanged so
// the pipeline runs automatically off the watch driver (C9). Distinct
// notes run concurrently across the worker pool; one note's five phases
// always run sequentially within a single worker invocation.
func (p *Pipeline) Start(ctx context.Context) {
	n := p.cfg.WorkerCount
	if n <= 0 {
		n = 4
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.sub = p.bus.Subscribe(eventbus.FileChanged, 10, func(_ context.Context, evt eventbus.Event) eventbus.HandlerResult {
		payload, ok := evt.Payload.(watch.FileChangedPayload)
		if !ok {
			return eventbus.HandlerResult{}
		}
		p.Enqueue(ctx, payload.Path, payload.Kind)
		return eventbus.HandlerResult{}
	})
}

// Enqueue schedules path for processing; it never blocks the caller for
// long (the job channel is generously buffered) but will block briefly if
// the pipeline is saturated, providing natural backpressure.
func (p *Pipeline) Enqueue(ctx context.Context, path string, kind watch.ChangeKind) {
	p.jobs <- job{ctx: ctx, path: path, kind: kind}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for j := range p.jobs {
		jctx := j.ctx
		if jctx == nil {
			jctx = ctx
		}
		if err := p.processOne(jctx, j.path, j.kind); err != nil && !errs.IsFatal(err) {
			p.bus.TryPublish(jctx, eventbus.Event{Kind: eventbus.ErrorEvent, Payload: err})
		}
	}
}

// Shutdown stops accepting new work and waits (bounded by deadline) for
// in-flight notes to finish.
func (p *Pipeline) Shutdown(deadline time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.sub != 0 {
		p.bus.Unsubscribe(eventbus.FileChanged, p.sub)
	}
	close(p.jobs)
	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(deadline):
	}
}

// ScanDir runs an initial full pass over root: every candidate file is
// fingerprinted and compared against the hydrated cache; new and changed
// files are enqueued, deleted ones are soft-deleted directly. It returns
// the four-way partition for callers that want to log/report it.
func (p *Pipeline) ScanDir(ctx context.Context, candidates []changeset.Fingerprint) (changeset.Partition, changeset.Metrics) {
	partition, metrics := p.fingerprints.Detect(candidates)
	for _, path := range partition.New {
		p.Enqueue(ctx, path, watch.Created)
	}
	for _, path := range partition.Changed {
		p.Enqueue(ctx, path, watch.Modified)
	}
	for _, path := range partition.Deleted {
		p.handleDelete(ctx, path)
	}
	return partition, metrics
}

// Hydrate seeds the fingerprint and path-index caches from persisted
// state (typically loaded by the caller from C6 at startup).
func (p *Pipeline) Hydrate(fps []changeset.Fingerprint, pathToEntity map[string]string) {
	p.fingerprints.Hydrate(fps)
	p.mu.Lock()
	for path, id := range pathToEntity {
		p.paths[path] = id
	}
	p.mu.Unlock()
}

type flatBlock struct {
	block *parser.Block
	id    string
	hash  hashing.Digest
	// headingOccurrence is the 1-based count of the nearest preceding
	// heading's own content text, so a relation anchored to this block
	// keeps pointing at the right section even after sibling blocks
	// elsewhere in the note are edited.
	headingOccurrence int
}

func (p *Pipeline) processOne(ctx context.Context, path string, kind watch.ChangeKind) error {
	if kind == watch.Deleted {
		p.handleDelete(ctx, path)
		return nil
	}

	// Phase 1: quick filter.
	raw, err := p.reader.ReadFile(path)
	if err != nil {
		return errs.Input(errs.KindInvalidPath, "read "+path, err)
	}
	contentHash := hashing.HashBytes(raw)
	fp := changeset.Fingerprint{Path: path, Hash: contentHash.String()}
	if existing, ok := p.fingerprints.Get(path); ok && existing.Hash == fp.Hash {
		return nil // StateFiltered: unchanged, nothing to do
	}

	// Phase 2: parse.
	note, err := parser.Parse(string(raw))
	if err != nil {
		return errs.Input(errs.KindParseFailed, "parse "+path, err)
	}
	p.bus.Publish(ctx, eventbus.Event{Kind: eventbus.NoteParsed, Payload: note})

	// Phase 3: Merkle diff.
	nodes, flat := buildForest(note.Blocks, "")
	tree := merkle.Build(nodes)
	p.mu.Lock()
	oldTree := p.merkles[path]
	p.merkles[path] = tree
	p.mu.Unlock()
	delta := merkle.Diff(oldTree, tree)

	// Phase 4: enrich (embed only the changed leaves).
	vectors, err := p.enrich(ctx, delta, flat)
	// a non-fatal enrichment failure still allows structural storage
	// to proceed; the note simply keeps stale/no vectors for the
	// blocks that failed to embed.
	if err != nil && errs.IsFatal(err) {
		return err
	}

	// Phase 5: store.
	p.mu.Lock()
	entityID := p.paths[path]
	p.mu.Unlock()
	newID, err := p.storeNote(ctx, entityID, path, contentHash, note, flat, delta, vectors)
	if err != nil {
		return errs.Storage(errs.KindInternal, "store "+path, err)
	}

	p.mu.Lock()
	p.paths[path] = newID
	p.mu.Unlock()
	p.fingerprints.Set(fp)
	return nil
}

func (p *Pipeline) resolvePath(path string) (string, bool) {
	p.mu.Lock()
	id, ok := p.paths[path]
	p.mu.Unlock()
	if ok {
		return id, ok
	}
	// Fall back to alias resolution: the wikilink target may name a
	// note's title or a discovered person rather than a file path.
	return p.aliases.Resolve(path)
}

// observeMentions feeds every capitalized, multi-character word in text
// to the candidate registry and upserts a person entity the moment one
// crosses the promotion threshold. Best-effort: a storage failure here
// never fails note ingestion.
func (p *Pipeline) observeMentions(text string) {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if !discovery.IsCapitalized(tok) {
			continue
		}
		if !p.candidates.AddToken(tok) {
			continue
		}
		stats := p.candidates.GetStats(tok)
		if stats == nil {
			continue
		}
		id, err := p.st.UpsertEntity(&store.Entity{
			Type: store.EntityPerson,
			Data: map[string]any{"name": stats.Display, "discovered": true},
		})
		if err != nil {
			continue
		}
		p.aliases.Register(discovery.EntityAlias{ID: id, Name: stats.Display})
	}
}

func (p *Pipeline) handleDelete(ctx context.Context, path string) {
	p.mu.Lock()
	id, ok := p.paths[path]
	delete(p.paths, path)
	delete(p.merkles, path)
	p.mu.Unlock()
	p.fingerprints.Remove(path)
	if !ok {
		return
	}
	if err := p.st.SoftDeleteEntity(id); err != nil {
		p.bus.TryPublish(ctx, eventbus.Event{Kind: eventbus.ErrorEvent, Payload: err})
		return
	}
	p.bus.Publish(ctx, eventbus.Event{Kind: eventbus.EntityStored, Payload: id})
}

// buildForest converts a parser block forest into a Merkle node forest,
// assigning each block a stable content-addressed id and a document-order
// path ("0", "0.1", ...), and returns a flattened path->block index for
// the enrich/store phases to look content up by Diff's leaf path.
func buildForest(blocks []*parser.Block, prefix string) ([]*merkle.Node, map[string]*flatBlock) {
	flat := make(map[string]*flatBlock)
	ds := &headingState{counts: make(map[string]int)}
	nodes := buildForestInto(blocks, prefix, flat, ds)
	return nodes, flat
}

// headingState tracks, while walking a note's block forest in document
// order, which occurrence of its own text the most recently seen heading
// is — so a wikilink below "## Notes" (second "## Notes" in the file)
// gets a different HeadingOccurrence than one below the first.
type headingState struct {
	counts  map[string]int
	current int
}

func buildForestInto(blocks []*parser.Block, prefix string, flat map[string]*flatBlock, ds *headingState) []*merkle.Node {
	nodes := make([]*merkle.Node, 0, len(blocks))
	for i, b := range blocks {
		path := fmt.Sprintf("%d", i)
		if prefix != "" {
			path = prefix + "." + path
		}
		if b.Type == parser.BlockHeading {
			ds.counts[b.Content]++
			ds.current = ds.counts[b.Content]
		}
		h := hashing.HashBlock(string(b.Type), b.Content)
		id := path + ":" + h.String()
		flat[path] = &flatBlock{block: b, id: id, hash: h, headingOccurrence: ds.current}
		n := &merkle.Node{BlockID: id, Path: path, Hash: h}
		if len(b.Children) > 0 {
			n.Children = buildForestInto(b.Children, path, flat, ds)
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// enrich embeds the content of every changed leaf, batched by
// cfg.EmbeddingBatchSize and bounded to cfg.EmbeddingConcurrency
// concurrent batches, with exponential-backoff retry up to
// cfg.EmbeddingMaxRetries. It returns path -> vector for every leaf that
// was successfully embedded.
func (p *Pipeline) enrich(ctx context.Context, delta []merkle.Leaf, flat map[string]*flatBlock) (map[string]embedding.Vector, error) {
	if len(delta) == 0 {
		return nil, nil
	}
	if p.embedder == nil || p.embedder.ModelName() == "none" {
		return nil, nil
	}

	batchSize := p.cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	concurrency := p.cfg.EmbeddingConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	type batch struct {
		paths []string
		texts []string
	}
	var batches []batch
	var cur batch
	for _, leaf := range delta {
		fb, ok := flat[leaf.Path]
		if !ok {
			continue
		}
		cur.paths = append(cur.paths, leaf.Path)
		cur.texts = append(cur.texts, fb.block.Content)
		if len(cur.texts) >= batchSize {
			batches = append(batches, cur)
			cur = batch{}
		}
	}
	if len(cur.texts) > 0 {
		batches = append(batches, cur)
	}

	results := make(map[string]embedding.Vector)
	var mu sync.Mutex
	var firstErr error
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, b := range batches {
		b := b
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			vecs, err := p.embedBatchWithRetry(ctx, b.texts)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errs.Network(errs.KindUpstream, "embed batch", err)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			for i, path := range b.paths {
				if i < len(vecs) {
					results[path] = vecs[i]
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}

func (p *Pipeline) embedBatchWithRetry(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	maxRetries := p.cfg.EmbeddingMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseMS := p.cfg.EmbeddingRetryBaseMS
	if baseMS <= 0 {
		baseMS = 200
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(baseMS) * time.Millisecond * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Intn(baseMS)) * time.Millisecond
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := p.embedLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Pipeline) storeNote(ctx context.Context, entityID, path string, contentHash hashing.Digest, note *parser.ParsedNote, flat map[string]*flatBlock, delta []merkle.Leaf, vectors map[string]embedding.Vector) (string, error) {
	e := &store.Entity{
		ID:          entityID,
		Type:        store.EntityNote,
		ContentHash: contentHash.String(),
		Data:        map[string]any{"path": path},
	}
	id, err := p.st.UpsertEntity(e)
	if err != nil {
		return "", err
	}
	p.bus.Publish(ctx, eventbus.Event{Kind: eventbus.EntityStored, Payload: id})

	if title, ok := note.Frontmatter["title"].(string); ok && title != "" {
		_ = p.st.SetProperty(&store.Property{EntityID: id, Namespace: "parser", Key: "title", Value: `"` + title + `"`, Source: "frontmatter", Confidence: 1})
		p.aliases.Register(discovery.EntityAlias{ID: id, Name: title})
	}
	_ = p.st.SetProperty(&store.Property{EntityID: id, Namespace: "fs", Key: "path", Value: `"` + path + `"`, Source: "watch", Confidence: 1})

	keep := make(map[string]bool, len(flat))
	for _, fb := range flat {
		keep[fb.hash.String()] = true
		blk := &store.Block{
			ID:          fb.id,
			EntityID:    id,
			BlockType:   string(fb.block.Type),
			Content:     fb.block.Content,
			ContentHash: fb.hash.String(),
			StartOffset: fb.block.StartOffset,
			EndOffset:   fb.block.EndOffset,
			StartLine:   fb.block.StartLine,
			EndLine:     fb.block.EndLine,
			Depth:       fb.block.Depth,
		}
		if err := p.st.AttachBlock(blk); err != nil {
			return "", err
		}
	}
	if _, err := p.st.DetachBlocks(id, keep); err != nil {
		return "", err
	}
	p.bus.Publish(ctx, eventbus.Event{Kind: eventbus.BlocksUpdated, Payload: len(flat)})

	for _, tag := range note.Tags {
		if err := p.st.TagEntity(id, tag.Text, "parser", 1.0); err != nil {
			return "", err
		}
	}

	p.observeMentions(note.PlainText)

	byBlockIndex := make(map[int]*flatBlock, len(flat))
	for _, fb := range flat {
		byBlockIndex[fb.block.Index] = fb
	}

	for _, wl := range note.Wikilinks {
		target := strings.TrimSpace(wl.Target)
		if target == "" {
			continue
		}
		rel := &store.Relation{
			FromEntity:   id,
			RelationType: "wikilink",
			Directed:     true,
			Confidence:   1,
			Source:       "parser",
			// every wikilink is assumed to reference a note until a
			// non-note content pipeline exists to classify it otherwise.
			ContentCategory: store.CategoryNote,
			Metadata:        map[string]string{"target": target, "alias": wl.Alias},
		}
		if origin, ok := byBlockIndex[wl.BlockIndex]; ok {
			rel.BlockOffset = origin.block.StartOffset
			rel.BlockHash = origin.hash.String()
			rel.HeadingOccurrence = origin.headingOccurrence
		}
		if resolved, ok := p.resolvePath(target); ok {
			rel.ToEntity = resolved
		}
		if _, err := p.st.CreateRelation(rel); err != nil {
			return "", err
		}
	}

	stored := 0
	for _, leaf := range delta {
		vec, ok := vectors[leaf.Path]
		if !ok {
			continue
		}
		fb, ok := flat[leaf.Path]
		if !ok {
			continue
		}
		emb := &store.Embedding{
			OwnerEntity:      id,
			ModelName:        p.embedder.ModelName(),
			Dimension:        p.embedder.Dimension(),
			Vector:           []float32(vec),
			BlockContentHash: fb.hash.String(),
		}
		if err := p.st.UpsertEmbedding(emb); err != nil {
			return "", err
		}
		stored++
	}
	if stored > 0 {
		p.bus.Publish(ctx, eventbus.Event{Kind: eventbus.EmbeddingGenerated, Payload: stored})
	}

	return id, nil
}

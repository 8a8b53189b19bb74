package index

import (
	"context"
	"os"
	"time"

	"github.com/codeplane/codeplane/internal/daemon"
	"github.com/codeplane/codeplane/internal/structural"
)

// DaemonHandler adapts a *Coordinator to daemon.RequestHandler, converting
// structural/query types to the daemon package's wire DTOs.
type DaemonHandler struct {
	Coord *Coordinator
}

// NewDaemonHandler wraps coord for serving over the daemon's TCP transport.
func NewDaemonHandler(coord *Coordinator) *DaemonHandler {
	return &DaemonHandler{Coord: coord}
}

func (h *DaemonHandler) Initialize(ctx context.Context) (daemon.InitializeResult, error) {
	contexts, err := h.Coord.cfg.Structural.GetContexts(ctx)
	if err != nil {
		return daemon.InitializeResult{}, err
	}
	out := make([]daemon.ContextInfo, 0, len(contexts))
	for _, c := range contexts {
		out = append(out, daemon.ContextInfo{Name: c.Name, Family: c.Family, Root: c.Root})
	}
	return daemon.InitializeResult{Contexts: out, Epoch: h.Coord.CurrentEpoch()}, nil
}

func (h *DaemonHandler) ReindexFull(ctx context.Context) (daemon.IndexStatsResult, error) {
	epoch, err := h.Coord.ReindexFull(ctx)
	if err != nil {
		return daemon.IndexStatsResult{}, err
	}
	return daemon.IndexStatsResult{Epoch: epoch}, nil
}

func (h *DaemonHandler) ReindexIncremental(ctx context.Context, paths []string) (daemon.IndexStatsResult, error) {
	epoch, err := h.Coord.ReindexIncremental(ctx, paths)
	if err != nil {
		return daemon.IndexStatsResult{}, err
	}
	return daemon.IndexStatsResult{Epoch: epoch, TouchedPaths: paths}, nil
}

func (h *DaemonHandler) AwaitEpoch(ctx context.Context, epoch int64, timeout time.Duration) (bool, error) {
	if err := h.Coord.AwaitEpoch(ctx, epoch, timeout); err != nil {
		return false, err
	}
	return true, nil
}

func (h *DaemonHandler) CurrentEpoch(context.Context) (int64, error) {
	return h.Coord.CurrentEpoch(), nil
}

func (h *DaemonHandler) Search(ctx context.Context, params daemon.SearchParams) (daemon.SearchResult, error) {
	mode := SearchModeHybrid
	if params.Mode == string(SearchModeLexical) {
		mode = SearchModeLexical
	}
	var scope *SearchScope
	if params.Kind != "" || params.EnclosingDef != "" {
		scope = &SearchScope{Kind: structural.FactKind(params.Kind), EnclosingDef: params.EnclosingDef}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	hits, _, err := h.Coord.Search(ctx, params.Query, mode, scope, limit)
	if err != nil {
		return daemon.SearchResult{}, err
	}
	out := make([]daemon.SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, daemon.SearchHit{
			Path:         hit.Path,
			Score:        hit.Score,
			MatchedTerms: hit.MatchedTerms,
			Defs:         defDTOs(hit.Defs),
		})
	}
	return daemon.SearchResult{Hits: out}, nil
}

func (h *DaemonHandler) GetDef(ctx context.Context, name, path string) (daemon.GetDefResult, error) {
	def, _, err := h.Coord.GetDef(ctx, name, path)
	if err != nil {
		return daemon.GetDefResult{}, err
	}
	if def == nil {
		return daemon.GetDefResult{}, nil
	}
	dto := defDTO(def)
	return daemon.GetDefResult{Def: &dto}, nil
}

func (h *DaemonHandler) GetAllDefs(ctx context.Context, fileID string) (daemon.GetAllDefsResult, error) {
	defs, err := h.Coord.GetAllDefs(ctx, fileID)
	if err != nil {
		return daemon.GetAllDefsResult{}, err
	}
	return daemon.GetAllDefsResult{Defs: defDTOs(defs)}, nil
}

func (h *DaemonHandler) GetReferences(ctx context.Context, defID, name string, limit int) (daemon.GetReferencesResult, error) {
	refs, err := h.Coord.GetReferences(ctx, defID, name, limit)
	if err != nil {
		return daemon.GetReferencesResult{}, err
	}
	out := make([]daemon.RefDTO, 0, len(refs))
	for _, r := range refs {
		out = append(out, daemon.RefDTO{
			ID:          r.ID,
			FileID:      r.FileID,
			TargetName:  r.Name,
			Role:        string(r.Role),
			Line:        r.StartLine,
		})
	}
	return daemon.GetReferencesResult{Refs: out}, nil
}

func (h *DaemonHandler) GetFileState(ctx context.Context, path string) (daemon.GetFileStateResult, error) {
	state, err := h.Coord.GetFileState(ctx, path)
	if err != nil {
		return daemon.GetFileStateResult{}, err
	}
	return daemon.GetFileStateResult{
		ContentHash:  state.ContentHash,
		IndexedEpoch: state.IndexedEpoch,
		ParseFailed:  state.ParseFailed,
	}, nil
}

func (h *DaemonHandler) GetFileStats(ctx context.Context) (daemon.GetFileStatsResult, error) {
	stats, err := h.Coord.GetFileStats(ctx)
	if err != nil {
		return daemon.GetFileStatsResult{}, err
	}
	return daemon.GetFileStatsResult{Total: stats.Total, Indexed: stats.Indexed, ParseFailed: stats.ParseFailed}, nil
}

func (h *DaemonHandler) MapRepo(ctx context.Context, _ []string) (daemon.MapRepoResult, error) {
	repoMap, _, err := h.Coord.MapRepo(ctx)
	if err != nil {
		return daemon.MapRepoResult{}, err
	}
	structure := make([]daemon.FileSummaryDTO, 0, len(repoMap.Files))
	for _, f := range repoMap.Files {
		structure = append(structure, daemon.FileSummaryDTO{Path: f.Path, Language: f.Language, LineCount: f.LineCount})
	}
	entryPoints := make([]daemon.EntryPointDTO, 0, len(repoMap.EntryPoints))
	for _, e := range repoMap.EntryPoints {
		entryPoints = append(entryPoints, daemon.EntryPointDTO{Path: e.Path})
	}
	return daemon.MapRepoResult{
		Structure:     structure,
		EntryPoints:   entryPoints,
		PublicSymbols: defDTOs(repoMap.PublicSymbols),
	}, nil
}

func (h *DaemonHandler) Status() daemon.StatusResult {
	return daemon.StatusResult{Running: true, PID: os.Getpid(), Epoch: h.Coord.CurrentEpoch()}
}

func defDTO(d *structural.DefFact) daemon.DefDTO {
	return daemon.DefDTO{
		ID:         d.ID,
		FileID:     d.FileID,
		Name:       d.Name,
		Kind:       string(d.Kind),
		Signature:  d.SignatureHash,
		StartLine:  d.StartLine,
		EndLine:    d.EndLine,
		IsExported: d.Public,
	}
}

func defDTOs(defs []*structural.DefFact) []daemon.DefDTO {
	out := make([]daemon.DefDTO, 0, len(defs))
	for _, d := range defs {
		out = append(out, defDTO(d))
	}
	return out
}

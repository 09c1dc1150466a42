package vector

import (
	"context"
	"fmt"
	"log/slog"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"seerlord/internal/domain"
)

// QdrantIndex implements domain.VectorIndex against a Qdrant instance over
// gRPC. Each point carries its scope fields (type, tenant_id, user_id,
// agent_name) in the payload so searches can filter server-side.
type QdrantIndex struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        uint64
	logger      *slog.Logger
}

// NewQdrantIndex connects to addr and ensures the collection exists with the
// given vector dimensionality.
func NewQdrantIndex(ctx context.Context, addr, collection string, dims int, logger *slog.Logger) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", domain.ErrVectorStore, addr, err)
	}

	idx := &QdrantIndex{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        uint64(dims),
		logger:      logger,
	}

	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     q.dims,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("%w: create collection: %v", domain.ErrVectorStore, err)
	}
	return nil
}

// Upsert implements domain.VectorIndex.
func (q *QdrantIndex) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}

		qPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: payload,
		}
	}

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert points: %v", domain.ErrVectorStore, err)
	}
	return nil
}

// Search implements domain.VectorIndex.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, filter domain.VectorFilter, limit int, scoreThreshold float32) ([]domain.VectorHit, error) {
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = &scoreThreshold
	}
	if f := toQdrantFilter(filter); f != nil {
		req.Filter = f
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search points: %v", domain.ErrVectorStore, err)
	}

	hits := make([]domain.VectorHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := make(map[string]string, len(r.Payload))
		for k, v := range r.Payload {
			if sv, ok := v.GetKind().(*pb.Value_StringValue); ok {
				payload[k] = sv.StringValue
			}
		}

		id := r.Id.GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", r.Id.GetNum())
		}

		hits = append(hits, domain.VectorHit{ID: id, Score: r.Score, Payload: payload})
	}
	return hits, nil
}

// Delete implements domain.VectorIndex.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: delete points: %v", domain.ErrVectorStore, err)
	}
	return nil
}

// toQdrantFilter builds the server-side payload filter. The tenant OR-set
// becomes a keyword-match-any condition; everything else is an AND.
func toQdrantFilter(filter domain.VectorFilter) *pb.Filter {
	var must []*pb.Condition

	keyword := func(key, value string) *pb.Condition {
		return &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   key,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
				},
			},
		}
	}

	if filter.Type != "" {
		must = append(must, keyword("type", filter.Type))
	}
	if len(filter.TenantIDs) > 0 {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "tenant_id",
					Match: &pb.Match{MatchValue: &pb.Match_Keywords{
						Keywords: &pb.RepeatedStrings{Strings: filter.TenantIDs},
					}},
				},
			},
		})
	}
	if filter.UserID != "" {
		must = append(must, keyword("user_id", filter.UserID))
	}
	if filter.AgentName != "" {
		must = append(must, keyword("agent_name", filter.AgentName))
	}

	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

// Compile-time interface check.
var _ domain.VectorIndex = (*QdrantIndex)(nil)

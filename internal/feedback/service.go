package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedbackhub/internal/audit"
	"feedbackhub/internal/common"
	"feedbackhub/internal/logger"
	"feedbackhub/internal/recordstore"
	"feedbackhub/internal/tracking"

	"go.uber.org/zap"
)

// ErrInvalidInput 参数不合法
var ErrInvalidInput = errors.New("feedback: invalid input")

const defaultMaxRetries = 3

// PostService 反馈帖子的写操作。版本冲突时重新读取并重放修改。
type PostService struct {
	store      *recordstore.Store
	engine     *tracking.Engine
	maxRetries int
}

// NewPostService 创建帖子服务
func NewPostService(store *recordstore.Store, engine *tracking.Engine) *PostService {
	return &PostService{store: store, engine: engine, maxRetries: defaultMaxRetries}
}

// CreatePostInput 创建参数
type CreatePostInput struct {
	BoardID  string
	MemberID *string
	Title    string
	Content  string
	Type     PostType
	Source   PostSource
}

// CreateBoard 创建看板
func (s *PostService) CreateBoard(ctx context.Context, organizationID, name, slug string) (*FeedbackBoard, error) {
	name = strings.TrimSpace(name)
	if organizationID == "" || name == "" {
		return nil, fmt.Errorf("%w: organization and name are required", ErrInvalidInput)
	}
	b := &FeedbackBoard{Base: Base{OrganizationID: organizationID}, Name: name, Slug: strings.ToLower(strings.TrimSpace(slug))}
	if _, err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// CreatePost 在看板下创建帖子，组织取自看板
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*FeedbackPost, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	var board FeedbackBoard
	if _, err := s.store.Load(ctx, &board, in.BoardID); err != nil {
		return nil, err
	}

	p := &FeedbackPost{
		Base:            Base{OrganizationID: board.OrganizationID},
		FeedbackBoardID: board.ID,
		MemberID:        in.MemberID,
		Title:           title,
		Content:         in.Content,
		Type:            in.Type,
		Source:          in.Source,
	}
	if p.Type == "" {
		p.Type = PostFeature
	}
	if p.Source == "" {
		p.Source = SourcePublicPage
	}
	if _, err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetBoard 读取看板
func (s *PostService) GetBoard(ctx context.Context, id string) (*FeedbackBoard, error) {
	var b FeedbackBoard
	if _, err := s.store.Load(ctx, &b, id); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetPost 读取帖子
func (s *PostService) GetPost(ctx context.Context, id string) (*FeedbackPost, error) {
	var p FeedbackPost
	if _, err := s.store.Load(ctx, &p, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ChangeStatus 修改帖子状态
func (s *PostService) ChangeStatus(ctx context.Context, id string, status PostStatus) (*FeedbackPost, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	return s.Mutate(ctx, id, func(p *FeedbackPost) error {
		p.Status = status
		return nil
	})
}

// Publish 公开帖子
func (s *PostService) Publish(ctx context.Context, id string, at time.Time) (*FeedbackPost, error) {
	return s.Mutate(ctx, id, func(p *FeedbackPost) error {
		if p.SetToPublicAt == nil {
			t := at.UTC()
			p.SetToPublicAt = &t
		}
		return nil
	})
}

// Mutate 读取 → 修改 → 比较交换写入。遇到 tracking.ErrConcurrentModification 时
// 基于最新状态重放 fn，最多 maxRetries 次；fn 必须可以重复执行。
func (s *PostService) Mutate(ctx context.Context, id string, fn func(*FeedbackPost) error) (*FeedbackPost, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var p FeedbackPost
		snap, err := s.store.Load(ctx, &p, id)
		if err != nil {
			return nil, err
		}
		if err := fn(&p); err != nil {
			return nil, err
		}

		_, err = s.store.Update(ctx, &p, snap)
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, tracking.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
		logger.WithContext(ctx).Debug("帖子版本冲突，重试",
			zap.String("post_id", id),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

// DeletePost 软删除帖子
func (s *PostService) DeletePost(ctx context.Context, id string) error {
	var p FeedbackPost
	if _, err := s.store.Load(ctx, &p, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, &p)
}

// Vote 投票；同一成员再次投票时修改方向
func (s *PostService) Vote(ctx context.Context, postID, memberID string, typ VoteType) (*Vote, error) {
	if typ != Upvote && typ != Downvote {
		return nil, fmt.Errorf("%w: vote type %q", ErrInvalidInput, typ)
	}
	if memberID == "" {
		return nil, fmt.Errorf("%w: member is required", ErrInvalidInput)
	}

	var post FeedbackPost
	if _, err := s.store.Load(ctx, &post, postID); err != nil {
		return nil, err
	}

	var vote Vote
	var out *Vote
	err := s.store.Transaction(ctx, func(tx *recordstore.Store) error {
		err := tx.DB().WithContext(ctx).
			Where("feedback_post_id = ? AND member_id = ?", postID, memberID).
			Limit(1).Find(&vote).Error
		if err != nil {
			return err
		}
		if vote.ID == "" {
			v := &Vote{Base: Base{OrganizationID: post.OrganizationID}, FeedbackPostID: postID, MemberID: memberID, Type: typ}
			if _, err := tx.Create(ctx, v); err != nil {
				return err
			}
			out = v
			return nil
		}

		snap, err := recordstore.Take(&vote)
		if err != nil {
			return err
		}
		vote.Type = typ
		if _, err := tx.Update(ctx, &vote, snap); err != nil {
			return err
		}
		out = &vote
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History 帖子的审计历史
func (s *PostService) History(ctx context.Context, id string, page common.PaginationRequest) ([]*audit.Record, int64, error) {
	return s.engine.History(ctx, &FeedbackPost{Base: Base{ID: id}}, page)
}

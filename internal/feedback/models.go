package feedback

import (
	"time"

	"feedbackhub/internal/tracking"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PostStatus 反馈状态
type PostStatus string

const (
	PostOpen       PostStatus = "open"
	PostPlanned    PostStatus = "planned"
	PostInProgress PostStatus = "in_progress"
	PostCompleted  PostStatus = "completed"
	PostArchived   PostStatus = "archived"
	PostClosed     PostStatus = "closed"
)

// Valid 是否为已知状态
func (s PostStatus) Valid() bool {
	switch s {
	case PostOpen, PostPlanned, PostInProgress, PostCompleted, PostArchived, PostClosed:
		return true
	}
	return false
}

// PostType 反馈类型
type PostType string

const (
	PostFeature     PostType = "feature"
	PostBug         PostType = "bug"
	PostImprovement PostType = "improvement"
	PostQuestion    PostType = "question"
	PostSuggestion  PostType = "suggestion"
	PostOther       PostType = "other"
)

// PostSource 反馈来源
type PostSource string

const (
	SourceEmbed      PostSource = "embed"
	SourcePublicPage PostSource = "public_page"
)

// RoadmapStatus 路线图条目状态
type RoadmapStatus string

const (
	RoadmapDraft      RoadmapStatus = "draft"
	RoadmapPlanned    RoadmapStatus = "planned"
	RoadmapInProgress RoadmapStatus = "in_progress"
	RoadmapCompleted  RoadmapStatus = "completed"
	RoadmapArchived   RoadmapStatus = "archived"
	RoadmapCancelled  RoadmapStatus = "cancelled"
)

// VoteType 投票方向
type VoteType string

const (
	Upvote   VoteType = "upvote"
	Downvote VoteType = "downvote"
)

// Base 反馈实体公共字段
type Base struct {
	ID             string         `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string         `json:"organization_id" gorm:"type:uuid;not null;index"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate GORM 钩子
func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func (b *Base) EntityID() string { return b.ID }

// OrganizationKey 审计记录归属的组织
func (b *Base) OrganizationKey() *string {
	if b.OrganizationID == "" {
		return nil
	}
	id := b.OrganizationID
	return &id
}

// FeedbackBoard 反馈看板
type FeedbackBoard struct {
	Base
	PublicID      string     `json:"public_id" gorm:"size:36;uniqueIndex;not null"`
	Name          string     `json:"name" gorm:"size:255;not null"`
	Slug          string     `json:"slug" gorm:"size:100;not null;index"`
	Description   string     `json:"description" gorm:"type:text"`
	SetToPublicAt *time.Time `json:"set_to_public_at,omitempty"`
	tracking.Stamps
}

func (FeedbackBoard) TableName() string    { return "feedback_boards" }
func (*FeedbackBoard) EntityType() string { return "FeedbackBoard" }

// BeforeCreate GORM 钩子
func (b *FeedbackBoard) BeforeCreate(tx *gorm.DB) error {
	if b.PublicID == "" {
		b.PublicID = uuid.NewString()
	}
	return b.Base.BeforeCreate(tx)
}

// IsPublic 看板是否已公开
func (b *FeedbackBoard) IsPublic() bool {
	return b.SetToPublicAt != nil
}

// FeedbackPost 反馈帖子
type FeedbackPost struct {
	Base
	PublicID        string            `json:"public_id" gorm:"size:36;uniqueIndex;not null"`
	FeedbackBoardID string            `json:"feedback_board_id" gorm:"type:uuid;not null;index"`
	MemberID        *string           `json:"member_id,omitempty" gorm:"size:64;index"`
	Title           string            `json:"title" gorm:"size:255;not null"`
	Content         string            `json:"content" gorm:"type:text"`
	Status          PostStatus        `json:"status" gorm:"size:20;not null;default:open;index"`
	Type            PostType          `json:"type" gorm:"size:20;not null;default:feature"`
	Source          PostSource        `json:"source" gorm:"size:20;not null;default:public_page"`
	SourceURL       string            `json:"source_url,omitempty" gorm:"size:1024"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	SetToPublicAt   *time.Time        `json:"set_to_public_at,omitempty"`
	tracking.Stamps
}

func (FeedbackPost) TableName() string    { return "feedback_posts" }
func (*FeedbackPost) EntityType() string { return "FeedbackPost" }

// BeforeCreate GORM 钩子
func (p *FeedbackPost) BeforeCreate(tx *gorm.DB) error {
	if p.PublicID == "" {
		p.PublicID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PostOpen
	}
	return p.Base.BeforeCreate(tx)
}

// Comment 评论，ParentID 非空时为回复
type Comment struct {
	Base
	FeedbackPostID string  `json:"feedback_post_id" gorm:"type:uuid;not null;index"`
	MemberID       *string `json:"member_id,omitempty" gorm:"size:64"`
	ParentID       *string `json:"parent_id,omitempty" gorm:"type:uuid;index"`
	Content        string  `json:"content" gorm:"type:text;not null"`
	tracking.Stamps
}

func (Comment) TableName() string    { return "comments" }
func (*Comment) EntityType() string { return "Comment" }

// RoadmapItem 路线图条目
type RoadmapItem struct {
	Base
	PublicID       string        `json:"public_id" gorm:"size:36;uniqueIndex;not null"`
	FeedbackPostID *string       `json:"feedback_post_id,omitempty" gorm:"type:uuid;index"`
	Title          string        `json:"title" gorm:"size:255;not null"`
	Content        string        `json:"content" gorm:"type:text"`
	Status         RoadmapStatus `json:"status" gorm:"size:20;not null;default:draft"`
	tracking.Stamps
}

func (RoadmapItem) TableName() string    { return "roadmap_items" }
func (*RoadmapItem) EntityType() string { return "RoadmapItem" }

// BeforeCreate GORM 钩子
func (r *RoadmapItem) BeforeCreate(tx *gorm.DB) error {
	if r.PublicID == "" {
		r.PublicID = uuid.NewString()
	}
	return r.Base.BeforeCreate(tx)
}

// Changelog 更新日志
type Changelog struct {
	Base
	PublicID      string     `json:"public_id" gorm:"size:36;uniqueIndex;not null"`
	RoadmapItemID *string    `json:"roadmap_item_id,omitempty" gorm:"type:uuid;index"`
	Title         string     `json:"title" gorm:"size:255;not null"`
	Content       string     `json:"content" gorm:"type:text"`
	PublishedAt   *time.Time `json:"published_at,omitempty" gorm:"index"`
	PublishedBy   *string    `json:"published_by,omitempty" gorm:"size:64"`
	tracking.Stamps
}

func (Changelog) TableName() string    { return "changelogs" }
func (*Changelog) EntityType() string { return "Changelog" }

// BeforeCreate GORM 钩子
func (c *Changelog) BeforeCreate(tx *gorm.DB) error {
	if c.PublicID == "" {
		c.PublicID = uuid.NewString()
	}
	return c.Base.BeforeCreate(tx)
}

// IsPublished 是否已发布
func (c *Changelog) IsPublished() bool {
	return c.PublishedAt != nil
}

// Vote 投票。没有版本号和操作者字段，只记审计
type Vote struct {
	Base
	FeedbackPostID string   `json:"feedback_post_id" gorm:"type:uuid;not null;uniqueIndex:idx_votes_post_member,priority:1"`
	MemberID       string   `json:"member_id" gorm:"size:64;not null;uniqueIndex:idx_votes_post_member,priority:2"`
	Type           VoteType `json:"type" gorm:"size:10;not null"`
}

func (Vote) TableName() string    { return "votes" }
func (*Vote) EntityType() string { return "Vote" }

// Models 需要迁移的全部表
func Models() []any {
	return []any{
		&FeedbackBoard{},
		&FeedbackPost{},
		&Comment{},
		&RoadmapItem{},
		&Changelog{},
		&Vote{},
	}
}

// Register 向追踪注册表登记反馈实体。
// 评论的版本号能力不显式声明，由表结构探测决定；投票没有 version 列。
func Register(reg *tracking.Registry) error {
	entries := []struct {
		prototype tracking.Entity
		opts      []tracking.Option
	}{
		{&FeedbackBoard{}, []tracking.Option{tracking.WithVersioning(true)}},
		{&FeedbackPost{}, []tracking.Option{tracking.WithVersioning(true), tracking.WithIgnoredFields("metadata")}},
		{&Comment{}, nil},
		{&RoadmapItem{}, []tracking.Option{tracking.WithVersioning(true)}},
		{&Changelog{}, []tracking.Option{tracking.WithVersioning(true), tracking.WithIgnoredFields("published_by")}},
		{&Vote{}, []tracking.Option{tracking.WithoutUserTracking()}},
	}
	for _, e := range entries {
		if _, err := reg.Register(e.prototype, e.opts...); err != nil {
			return err
		}
	}
	return nil
}

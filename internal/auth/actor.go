package auth

import "context"

type actorKey struct{}

// Actor 当前请求的操作者
type Actor struct {
	ID             string
	OrganizationID string
	Roles          []string
}

// WithActor 将操作者写入上下文
func WithActor(ctx context.Context, actor *Actor) context.Context {
	if actor == nil || actor.ID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext 读取操作者，匿名请求返回 false
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	if ctx == nil {
		return nil, false
	}
	actor, ok := ctx.Value(actorKey{}).(*Actor)
	return actor, ok && actor != nil
}

// ActorID 当前操作者 ID，匿名时为 nil。
// 变更追踪引擎以此作为默认的操作者来源。
func ActorID(ctx context.Context) *string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil
	}
	id := actor.ID
	return &id
}

// HasRole 是否具有任一角色
func (a *Actor) HasRole(roles ...string) bool {
	for _, have := range a.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

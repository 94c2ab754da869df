package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	schemaCache = &sync.Map{}
	namer       = schema.NamingStrategy{}
)

func parseSchema(e any) (*schema.Schema, error) {
	s, err := schema.Parse(e, schemaCache, namer)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %T: %v", ErrConfiguration, e, err)
	}
	return s, nil
}

// Attributes 返回实体当前的完整属性快照，键为列名，值已规范化，可直接比较与序列化
func Attributes(e Entity) (map[string]any, error) {
	raw, err := RawAttributes(e)
	if err != nil {
		return nil, err
	}
	return normalizeAll(raw), nil
}

// RawAttributes 返回未经规范化的列值，可直接交给 gorm 落库
func RawAttributes(e Entity) (map[string]any, error) {
	if src, ok := e.(AttributeSource); ok {
		return src.Attributes(), nil
	}

	s, err := parseSchema(e)
	if err != nil {
		return nil, err
	}
	rv := reflect.Indirect(reflect.ValueOf(e))
	out := make(map[string]any, len(s.DBNames))
	for _, name := range s.DBNames {
		v, _ := s.FieldsByDBName[name].ValueOf(context.Background(), rv)
		out[name] = v
	}
	return out, nil
}

// columns 实体的全部列名
func columns(e Entity) (map[string]struct{}, string, error) {
	if src, ok := e.(AttributeSource); ok {
		set := make(map[string]struct{})
		for k := range src.Attributes() {
			set[k] = struct{}{}
		}
		return set, "", nil
	}
	s, err := parseSchema(e)
	if err != nil {
		return nil, "", err
	}
	set := make(map[string]struct{}, len(s.DBNames))
	for _, name := range s.DBNames {
		set[name] = struct{}{}
	}
	return set, s.Table, nil
}

// normalize 将字段值转为可比较、可 JSON 序列化的形式，并断开与实体的引用共享
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC().Round(0)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Round(0)
	case gorm.DeletedAt:
		if !t.Valid {
			return nil
		}
		return t.Time.UTC().Round(0)
	case sql.NullTime:
		if !t.Valid {
			return nil
		}
		return t.Time.UTC().Round(0)
	case []byte:
		if t == nil {
			return nil
		}
		return string(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func equalValue(a, b any) bool {
	ta, aok := a.(time.Time)
	tb, bok := b.(time.Time)
	if aok || bok {
		return aok && bok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// Dirty 返回 current 中相对 original 发生变化的字段，按名称排序
func Dirty(original, current map[string]any) []string {
	var dirty []string
	for k, v := range current {
		old, ok := original[k]
		if !ok || !equalValue(normalize(old), normalize(v)) {
			dirty = append(dirty, k)
		}
	}
	sort.Strings(dirty)
	return dirty
}

func pick(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = m[f]
	}
	return out
}

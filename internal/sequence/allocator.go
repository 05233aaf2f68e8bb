// Package sequence реализует выдачу последовательных человекочитаемых идентификаторов.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EntityClass определяет класс сущности и тем самым правило форматирования идентификатора.
type EntityClass string

const (
	EntityUser    EntityClass = "user"
	EntityService EntityClass = "service"
	EntityReceipt EntityClass = "receipt"
)

// ReceiptPrefix — префикс номеров квитанций, видимый конечным пользователям.
const ReceiptPrefix = "WB"

// ErrAllocationExhausted возвращается, когда очередной номер не помещается
// в разрядность формата. Номер никогда не усекается молча.
var (
	ErrAllocationExhausted = errors.New("sequence width exhausted for scope")
	// ErrUnknownEntityClass возвращается для класса сущности без правила форматирования.
	ErrUnknownEntityClass = errors.New("unknown entity class")
)

// seqWidth задаёт число разрядов порядкового номера для каждого класса сущности.
var seqWidth = map[EntityClass]int{
	EntityUser:    3,
	EntityService: 4,
	EntityReceipt: 5,
}

// Store описывает контракт хранения счётчиков областей выдачи.
// NextValue обязан атомарно увеличить счётчик области и вернуть новое значение.
type Store interface {
	NextValue(ctx context.Context, class, prefix, timeBucket string) (int64, error)
}

// Allocator выдаёт идентификаторы, уникальные в пределах области (класс, префикс, период).
type Allocator struct {
	store Store
}

// NewAllocator создаёт аллокатор поверх указанного хранилища счётчиков.
func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// Allocate атомарно выдаёт следующий номер в области и возвращает отформатированный
// идентификатор. Пропуски в нумерации допустимы, дубликаты — нет.
func (a *Allocator) Allocate(ctx context.Context, class EntityClass, prefix, timeBucket string) (string, error) {
	if _, ok := seqWidth[class]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityClass, class)
	}

	n, err := a.store.NextValue(ctx, string(class), prefix, timeBucket)
	if err != nil {
		return "", fmt.Errorf("next value for %s/%s/%s: %w", class, prefix, timeBucket, err)
	}

	return Format(class, prefix, timeBucket, n)
}

// Format возвращает канонический идентификатор для номера n в указанной области.
// Чистая функция: результат зависит только от аргументов.
func Format(class EntityClass, prefix, timeBucket string, n int64) (string, error) {
	width, ok := seqWidth[class]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityClass, class)
	}

	if n <= 0 || n > maxForWidth(width) {
		return "", fmt.Errorf("%w: %s/%s/%s value %d exceeds %d digits",
			ErrAllocationExhausted, class, prefix, timeBucket, n, width)
	}

	switch class {
	case EntityUser:
		return fmt.Sprintf("%s-%s-%0*d", prefix, timeBucket, width, n), nil
	case EntityService:
		return fmt.Sprintf("%s-%0*d", prefix, width, n), nil
	case EntityReceipt:
		return fmt.Sprintf("%s-%s-%0*d", prefix, timeBucket, width, n), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownEntityClass, class)
}

func maxForWidth(width int) int64 {
	max := int64(1)
	for i := 0; i < width; i++ {
		max *= 10
	}
	return max - 1
}

// DayBucket возвращает период области для суточных счётчиков в формате YYYYMMDD (UTC).
func DayBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}

// YearBucket возвращает период области для годовых счётчиков в формате YYYY (UTC).
func YearBucket(t time.Time) string {
	return t.UTC().Format("2006")
}

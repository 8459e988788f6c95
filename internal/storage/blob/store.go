package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

// Store — in-memory blob-хранилище с подписанными ссылками на чтение.
// Ссылка действительна до exp (unix-секунды); подпись HMAC-SHA256 покрывает
// ключ объекта и срок действия, так что ни то, ни другое нельзя подменить.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte

	baseURL string
	secret  []byte
}

// NewStore создаёт хранилище. baseURL — внешний адрес сервиса без завершающего
// слэша, secret — ключ подписи ссылок.
func NewStore(baseURL string, secret []byte) *Store {
	return &Store{
		objects: make(map[string][]byte),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
	}
}

// Put сохраняет объект, перезаписывая существующий.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	if key == "" {
		return domain.ErrStorageFailure
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = buf
	return nil
}

// Get возвращает содержимое объекта.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrObjectNotFound
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Delete удаляет объект; отсутствие объекта — ErrObjectNotFound.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return domain.ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

// SignedURL выпускает временную ссылку вида
// <base>/files/<key>?exp=<unix>&sig=<hex>.
func (s *Store) SignedURL(key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", domain.ErrStorageFailure
	}
	if ttl <= 0 {
		return "", fmt.Errorf("blob: non-positive ttl %s", ttl)
	}

	exp := time.Now().UTC().Add(ttl).Unix()
	sig := s.sign(key, exp)

	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)

	return s.baseURL + "/files/" + key + "?" + q.Encode(), nil
}

// VerifySignedPath проверяет параметры подписанной ссылки для ключа key.
// Неверная подпись — ErrInvalidSignature, истёкший срок — ErrDownloadExpired.
func (s *Store) VerifySignedPath(key, expParam, sigParam string, now time.Time) error {
	exp, err := strconv.ParseInt(expParam, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	expected := s.sign(key, exp)
	if !hmac.Equal([]byte(expected), []byte(sigParam)) {
		return domain.ErrInvalidSignature
	}

	if now.UTC().Unix() > exp {
		return domain.ErrDownloadExpired
	}
	return nil
}

func (s *Store) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ domain.ObjectStore = (*Store)(nil)

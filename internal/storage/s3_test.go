package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"reward_platform/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (p *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.in = in
	p.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestPutProof(t *testing.T) {
	putter := &fakePutter{}
	s := NewS3WithClient(putter, "proofs", "https://cdn.example.com/")
	s.now = func() time.Time { return time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC) }

	url, err := s.PutProof(context.Background(), 5, 9, []byte("img"), "image/png")
	require.NoError(t, err)

	key := aws.ToString(putter.in.Key)
	assert.True(t, strings.HasPrefix(key, "proofs/9/5/2026-03-10/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Equal(t, "proofs", aws.ToString(putter.in.Bucket))
	assert.Equal(t, "https://cdn.example.com/"+key, url)
	assert.Equal(t, []byte("img"), putter.body)
}

func TestPutProofDetectsType(t *testing.T) {
	putter := &fakePutter{}
	s := NewS3WithClient(putter, "proofs", "https://cdn.example.com")
	png := []byte("\x89PNG\r\n\x1a\n0000")

	_, err := s.PutProof(context.Background(), 1, 1, png, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", aws.ToString(putter.in.ContentType))
}

func TestPutProofRejects(t *testing.T) {
	s := NewS3WithClient(&fakePutter{}, "proofs", "https://cdn.example.com")
	ctx := context.Background()

	_, err := s.PutProof(ctx, 1, 1, nil, "image/png")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = s.PutProof(ctx, 1, 1, make([]byte, maxProofSize+1), "image/png")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = s.PutProof(ctx, 1, 1, []byte("%PDF"), "application/pdf")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	s = NewS3WithClient(&fakePutter{err: errors.New("503")}, "proofs", "https://cdn.example.com")
	_, err = s.PutProof(ctx, 1, 1, []byte("img"), "image/jpeg")
	assert.Error(t, err)
	assert.Equal(t, domain.ErrorKind(""), domain.KindOf(err))
}

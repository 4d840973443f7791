package biz

import (
	"testing"

	"aigc-service/internal/constants"

	"github.com/stretchr/testify/assert"
)

func TestClassifyJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		actual   int
		want     string
	}{
		{"all units succeeded", 4, 4, constants.JobStatusSuccess},
		{"some units succeeded", 4, 3, constants.JobStatusPartialSuccess},
		{"single unit succeeded", 4, 1, constants.JobStatusPartialSuccess},
		{"no units succeeded", 4, 0, constants.JobStatusFailed},
		{"negative actual treated as failed", 4, -1, constants.JobStatusFailed},
		{"single unit job success", 1, 1, constants.JobStatusSuccess},
		{"single unit job failure", 1, 0, constants.JobStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyJobStatus(tt.expected, tt.actual))
		})
	}
}

func TestJobMetaValidate(t *testing.T) {
	t.Run("valid text to image", func(t *testing.T) {
		m := &JobMeta{
			Kind:        constants.JobMetaKindTextToImage,
			TextToImage: &TextToImageParams{Prompt: "a cat", Size: "1024x1024"},
		}
		assert.NoError(t, m.Validate())
	})

	t.Run("valid image to image", func(t *testing.T) {
		m := &JobMeta{
			Kind: constants.JobMetaKindImageToImage,
			ImageToImage: &ImageToImageParams{
				Prompt:          "make it night",
				ReferenceImages: []string{"https://example.com/a.png"},
			},
		}
		assert.NoError(t, m.Validate())
	})

	t.Run("nil meta", func(t *testing.T) {
		var m *JobMeta
		assert.Error(t, m.Validate())
	})

	t.Run("unknown kind", func(t *testing.T) {
		m := &JobMeta{Kind: "video"}
		assert.Error(t, m.Validate())
	})

	t.Run("kind and params mismatch", func(t *testing.T) {
		m := &JobMeta{
			Kind:         constants.JobMetaKindTextToImage,
			ImageToImage: &ImageToImageParams{Prompt: "x", ReferenceImages: []string{"u"}},
		}
		assert.Error(t, m.Validate())
	})

	t.Run("both params set", func(t *testing.T) {
		m := &JobMeta{
			Kind:         constants.JobMetaKindTextToImage,
			TextToImage:  &TextToImageParams{Prompt: "a cat"},
			ImageToImage: &ImageToImageParams{Prompt: "x", ReferenceImages: []string{"u"}},
		}
		assert.Error(t, m.Validate())
	})

	t.Run("missing prompt", func(t *testing.T) {
		m := &JobMeta{
			Kind:        constants.JobMetaKindTextToImage,
			TextToImage: &TextToImageParams{},
		}
		assert.Error(t, m.Validate())
	})

	t.Run("image to image without references", func(t *testing.T) {
		m := &JobMeta{
			Kind:         constants.JobMetaKindImageToImage,
			ImageToImage: &ImageToImageParams{Prompt: "x"},
		}
		assert.Error(t, m.Validate())
	})
}

func TestErrorAggregateRoundtrip(t *testing.T) {
	a := &ErrorAggregate{
		Summary: "2 unit(s) failed",
		Units: []UnitError{
			{Index: 1, Stage: "generate", Error: "timeout"},
			{Index: 3, Stage: "upload", Error: "storage unavailable"},
		},
	}

	decoded := DecodeErrorAggregate(a.Encode())
	assert.Equal(t, a.Summary, decoded.Summary)
	assert.Len(t, decoded.Units, 2)
	assert.Equal(t, 3, decoded.Units[1].Index)
	assert.Equal(t, "upload", decoded.Units[1].Stage)
}

func TestErrorAggregateEmpty(t *testing.T) {
	assert.Equal(t, "", (*ErrorAggregate)(nil).Encode())
	assert.Equal(t, "", (&ErrorAggregate{}).Encode())
	assert.Nil(t, DecodeErrorAggregate(""))
}

func TestDecodeErrorAggregate_PlainString(t *testing.T) {
	// 历史数据里可能存的是裸错误文本
	decoded := DecodeErrorAggregate("upstream unavailable")
	assert.Equal(t, "upstream unavailable", decoded.Summary)
	assert.Empty(t, decoded.Units)
}

func TestJobMetaGenerateRequest(t *testing.T) {
	m := &JobMeta{
		Kind: constants.JobMetaKindImageToImage,
		ImageToImage: &ImageToImageParams{
			Prompt:          "make it night",
			ReferenceImages: []string{"https://example.com/a.png"},
			Size:            "512x512",
		},
	}
	req := m.GenerateRequest()
	assert.Equal(t, "make it night", req.Prompt)
	assert.Equal(t, []string{"https://example.com/a.png"}, req.ReferenceImages)
	assert.Equal(t, "512x512", req.Size)
}

func TestJobMetaGenerateRequest_UnusableMeta(t *testing.T) {
	// 校验不过的元数据必须得到 nil 而不是崩溃
	t.Run("nil meta", func(t *testing.T) {
		var m *JobMeta
		assert.Nil(t, m.GenerateRequest())
	})

	t.Run("unknown kind", func(t *testing.T) {
		m := &JobMeta{Kind: "video"}
		assert.Nil(t, m.GenerateRequest())
	})

	t.Run("kind without params", func(t *testing.T) {
		assert.Nil(t, (&JobMeta{Kind: constants.JobMetaKindTextToImage}).GenerateRequest())
		assert.Nil(t, (&JobMeta{Kind: constants.JobMetaKindImageToImage}).GenerateRequest())
	})
}

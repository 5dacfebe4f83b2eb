package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

func eightBlocks() []model.StoryBlock {
	blocks := make([]model.StoryBlock, 8)
	for i := range blocks {
		blocks[i] = model.StoryBlock{Index: i + 1, Title: "Block", Content: "content"}
	}
	return blocks
}

func TestValidateStoryBlocks_AcceptsExactlyEight(t *testing.T) {
	require.NoError(t, validateStoryBlocks(eightBlocks()))
}

func TestValidateStoryBlocks_RejectsFewerThanEight(t *testing.T) {
	blocks := eightBlocks()[:7]
	err := validateStoryBlocks(blocks)
	require.Error(t, err)
	var stageErr *pipelineerr.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, pipelineerr.KindSchema, stageErr.Kind)
}

func TestValidateStoryBlocks_RejectsMoreThanEight(t *testing.T) {
	blocks := append(eightBlocks(), model.StoryBlock{Index: 8, Title: "Extra", Content: "x"})
	err := validateStoryBlocks(blocks)
	require.Error(t, err)
}

func TestValidateStoryBlocks_RejectsMissingTitle(t *testing.T) {
	blocks := eightBlocks()
	blocks[3].Title = ""
	err := validateStoryBlocks(blocks)
	require.Error(t, err)
}

func TestValidateStoryBlocks_RejectsDuplicateIndex(t *testing.T) {
	blocks := eightBlocks()
	blocks[1].Index = blocks[0].Index
	err := validateStoryBlocks(blocks)
	require.Error(t, err)
}

func TestValidateStoryBlocks_RejectsIndexOutOfRange(t *testing.T) {
	blocks := eightBlocks()
	blocks[0].Index = 0
	err := validateStoryBlocks(blocks)
	require.Error(t, err)
	var stageErr *pipelineerr.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, pipelineerr.KindSchema, stageErr.Kind)
}

func TestValidateStoryBlocks_RejectsNonSequentialIndexes(t *testing.T) {
	blocks := eightBlocks()
	for i := range blocks {
		blocks[i].Index = (i + 1) * 10
	}
	err := validateStoryBlocks(blocks)
	require.Error(t, err)
}

func TestStoryStage_ShouldSkipForEducationalContent(t *testing.T) {
	s := StoryStage{}
	pctx := registry.NewContext("/inbox/a.mp4", nil).WithMetadata(model.VideoMetadata{ContentType: model.ContentEducational})
	require.True(t, s.ShouldSkip(pctx))
}

func TestStoryStage_DoesNotSkipForLeadershipContent(t *testing.T) {
	s := StoryStage{}
	pctx := registry.NewContext("/inbox/a.mp4", nil).WithMetadata(model.VideoMetadata{ContentType: model.ContentLeadership})
	require.False(t, s.ShouldSkip(pctx))
}

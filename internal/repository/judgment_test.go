package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/trpg-server/internal/models"
)

func seedJudgment(t *testing.T, repo JudgmentRepository, sessionID, characterID uint, text string) *models.ActionJudgment {
	j := &models.ActionJudgment{
		SessionID:    sessionID,
		CharacterID:  characterID,
		ActionText:   text,
		AbilityType:  models.AbilityStrength,
		AbilityScore: 14,
		Modifier:     2,
		Difficulty:   12,
	}
	require.NoError(t, repo.Create(context.Background(), j))
	return j
}

// TestJudgmentLinkStoryLog 批量关联判定与叙事记录
func TestJudgmentLinkStoryLog(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJudgmentRepository(db)
	storyRepo := NewStoryLogRepository(db)
	ctx := context.Background()

	host := CreateTestUser(t, db, "host")
	c := CreateTestCharacter(t, db, host.ID, "圣骑士", nil)
	session := CreateTestSession(t, db, host.ID, "测试团")

	j1 := seedJudgment(t, repo, session.ID, c.ID, "挥剑")
	j2 := seedJudgment(t, repo, session.ID, c.ID, "格挡")

	story := &models.StoryLog{SessionID: session.ID, Role: models.StoryRoleAI, Content: "战斗打响"}
	require.NoError(t, storyRepo.Create(ctx, story))

	require.NoError(t, repo.LinkStoryLog(ctx, []uint{j1.ID, j2.ID}, story.ID))

	got, err := repo.FindByID(ctx, j1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StoryLogID)
	assert.Equal(t, story.ID, *got.StoryLogID)
}

// TestJudgmentDeleteUnresolved 只清理未掷骰的判定
func TestJudgmentDeleteUnresolved(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJudgmentRepository(db)
	ctx := context.Background()

	host := CreateTestUser(t, db, "host")
	c := CreateTestCharacter(t, db, host.ID, "刺客", nil)
	session := CreateTestSession(t, db, host.ID, "测试团")

	resolved := seedJudgment(t, repo, session.ID, c.ID, "偷袭")
	dice, final := 15, 17
	resolved.DiceResult = &dice
	resolved.FinalValue = &final
	resolved.Outcome = "success"
	require.NoError(t, repo.Update(ctx, resolved))

	seedJudgment(t, repo, session.ID, c.ID, "潜行")

	require.NoError(t, repo.DeleteUnresolved(ctx, session.ID))

	list, err := repo.FindBySessionID(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, resolved.ID, list[0].ID)
}

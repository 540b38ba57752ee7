package normalize

import (
	"strings"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

type educationSynonym struct {
	key  string
	tier crawler.EducationTier
}

type experienceSynonym struct {
	key  string
	tier crawler.ExperienceTier
}

// Order matters: the first key contained in the input wins.
var educationSynonyms = []educationSynonym{
	{"不限", crawler.EducationUnspecified},
	{"中专", crawler.EducationSecondary},
	{"高中", crawler.EducationSecondary},
	{"大专", crawler.EducationAssociate},
	{"专科", crawler.EducationAssociate},
	{"本科", crawler.EducationBachelor},
	{"硕士", crawler.EducationMaster},
	{"博士", crawler.EducationDoctorate},
	{"mba", crawler.EducationMaster},
	{"学士", crawler.EducationBachelor},
	{"研究生", crawler.EducationMaster},
	{"phd", crawler.EducationDoctorate},
	{"doctor", crawler.EducationDoctorate},
	{"master", crawler.EducationMaster},
	{"bachelor", crawler.EducationBachelor},
	{"associate", crawler.EducationAssociate},
	{"high school", crawler.EducationSecondary},
}

var experienceSynonyms = []experienceSynonym{
	{"不限", crawler.ExperienceUnspecified},
	{"应届", crawler.ExperienceNewGraduate},
	{"在校", crawler.ExperienceNewGraduate},
	{"1年以下", crawler.ExperienceUnderOne},
	{"一年以下", crawler.ExperienceUnderOne},
	{"1-3年", crawler.ExperienceOneToThree},
	{"3-5年", crawler.ExperienceThreeToFive},
	{"5-10年", crawler.ExperienceFiveToTen},
	{"10年以上", crawler.ExperienceTenPlus},
	{"new grad", crawler.ExperienceNewGraduate},
	{"less than 1 year", crawler.ExperienceUnderOne},
	{"1-3 years", crawler.ExperienceOneToThree},
	{"3-5 years", crawler.ExperienceThreeToFive},
	{"5-10 years", crawler.ExperienceFiveToTen},
	{"10+ years", crawler.ExperienceTenPlus},
}

// ParseEducation maps free text to an education tier; unknown text is unspecified.
func ParseEducation(text string) crawler.EducationTier {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return crawler.EducationUnspecified
	}
	for _, s := range educationSynonyms {
		if strings.Contains(text, s.key) {
			return s.tier
		}
	}
	return crawler.EducationUnspecified
}

// ParseExperience maps free text to an experience tier; unknown text is unspecified.
func ParseExperience(text string) crawler.ExperienceTier {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return crawler.ExperienceUnspecified
	}
	for _, s := range experienceSynonyms {
		if strings.Contains(text, s.key) {
			return s.tier
		}
	}
	return crawler.ExperienceUnspecified
}

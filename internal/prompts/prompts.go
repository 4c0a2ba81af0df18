// Package prompts holds the vision prompt catalog for racing photography
// analysis. Each profile targets a racing series with its own class system;
// all prompts demand a JSON-only response so downstream parsing stays
// uniform.
package prompts

import (
	"fmt"
	"strings"
)

const fuzzyToken = "{fuzzy_instruction}"

const fuzzyNumberInstruction = `
- fuzzy_numbers: Array of possible alternate numbers if you see evidence of
  modified numbers (duct tape additions, covered digits, ambiguous markings).
  For example, if you see "173" but the "1" looks like it might be tape over
  another number, include both "173" and possible alternates like "73" or "273".`

const subjectGate = `FIRST: Determine if a car is the PRIMARY SUBJECT of this image.
Return car_detected: false if:
- There is NO car in the image (people, landscapes, trophies, buildings)
- The car is only partially visible at the edge of the frame
- The car is a tiny part of the image (less than ~20% of the frame)
- The image is primarily showing people, pit crews, paddock scenes, or other non-car subjects
- You cannot clearly see enough of the car to identify its details
Also report people_detected: true whenever people are clearly visible.`

const porschePrompt = `Analyze this Porsche Club of America (PCA) racing photograph.

` + subjectGate + `

If car_detected is false, return:
{"car_detected": false, "make": null, "model": null, "color": null, "class": null, "numbers": []}

If a car IS the primary subject (prominently featured, clearly visible), extract information as JSON:
- car_detected: true
- make: Should be "Porsche" (or other if not a Porsche)
- model: Specific Porsche model. Common models include 911 variants (911, 911 GT3,
  911 GT3 RS, 911 GT3 Cup, 911 RSR, 911 Carrera), Cayman variants (Cayman, Cayman S,
  Cayman GT4, Cayman GT4 RS), Boxster variants, 718 variants, and classics (944, 968, 928, 914)
- color: The ACTUAL visible body color of the car. Well-known Porsche colors are fine
  (Guards Red, Racing Yellow, Miami Blue, Shark Blue, Python Green); generic colors also fine.
  White cars are White, not GT Silver. Only say "GT Silver" for true metallic silver.
- class: ONLY include if you can clearly read a class sticker/text on the windshield or body.
  Do NOT guess the class from the car type. Valid classes: SPB, SPC, SPD, SPE, GT1-GT5,
  GTC1-GTC6, SP996, SP997, SP991, Stock, Improved
- numbers: Array of RACING numbers visible (typically large numbers on doors, hood, or roof)
{fuzzy_instruction}

IMPORTANT:
- Only report what you can clearly SEE in the image - do NOT guess or hallucinate details
- RACING NUMBERS vs BADGES: do NOT report "911", "718", "GT3", "GT4", or "992" from small
  model badges on the car body. Racing numbers are typically 1-3 digits, large, and
  prominently displayed for competition.
- If multiple cars are visible, report all visible racing numbers

Return ONLY valid JSON, no other text.`

const generalPrompt = `Analyze this motorsport racing photograph.

` + subjectGate + `

If car_detected is false, return:
{"car_detected": false, "make": null, "model": null, "color": null, "class": null, "numbers": []}

If a car IS the primary subject, extract information as JSON:
- car_detected: true
- make: Car manufacturer
- model: Specific model if identifiable
- color: Primary body color
- class: Racing class if visible (class stickers on windshield or body,
  series-specific livery or badges, number boards or door panels)
- numbers: Array of racing numbers visible
{fuzzy_instruction}

Return ONLY valid JSON, no other text.`

const nascarPrompt = `Analyze this NASCAR racing photograph.

` + subjectGate + `

If car_detected is false, return:
{"car_detected": false, "make": null, "color": null, "subcategory": null, "numbers": []}

If a car IS the primary subject, extract information as JSON:
- car_detected: true
- numbers: Array of car numbers (look for large numbers on doors, hood, roof)
- subcategory: NASCAR tier if identifiable: Cup (modern Cup Series body),
  Truck (pickup truck bodies), LateModel (wedge-shaped stock car body),
  Modified (compact, open wheel wells), Sportsman (entry-level). Omit if uncertain.
- make: Manufacturer if identifiable from badging (Chevrolet, Ford, Toyota)
- color: Primary color(s) of car/livery
{fuzzy_instruction}

IMPORTANT: NASCAR numbers are LARGE and prominent; do NOT report small sponsor
or badge numbers.

Return ONLY valid JSON, no other text.`

const imsaPrompt = `Analyze this IMSA racing photograph.

` + subjectGate + `

If car_detected is false, return:
{"car_detected": false, "make": null, "model": null, "color": null, "class": null, "numbers": []}

If a car IS the primary subject, extract information as JSON:
- car_detected: true
- numbers: Array of car numbers visible
- class: IMSA class from body shape, cockpit design, livery, and era:
  current era GTP, GTD, GTDPro; recent era DPi, GTD, GTLM; ALMS/Grand-Am era
  P1, P2, GT1, GT2, DP, GT; prototype classes LMP2, LMP3.
  Omit class if truly uncertain - misidentification is worse than no class.
- make: Manufacturer (Porsche, BMW, Corvette, Ferrari, Lamborghini, Cadillac, Acura, etc.)
- model: Specific model if identifiable (911 GT3 R, M4 GT3, C8.R, 296 GT3, etc.)
- color: Primary color(s)
{fuzzy_instruction}

Return ONLY valid JSON, no other text.`

const worldChallengePrompt = `Analyze this GT World Challenge America racing photograph.

` + subjectGate + `

If car_detected is false, return:
{"car_detected": false, "make": null, "model": null, "color": null, "class": null, "numbers": []}

If a car IS the primary subject, extract information as JSON:
- car_detected: true
- numbers: Array of car numbers visible
- class: GT (GT3 spec cars), GS (GT4 spec cars), or TC (production-based
  touring cars). Omit if uncertain.
- make: Manufacturer (BMW, Porsche, Mercedes, Aston Martin, Chevrolet, Lamborghini, etc.)
- model: Specific model if identifiable
- color: Primary color(s)
{fuzzy_instruction}

Return ONLY valid JSON, no other text.`

const indycarPrompt = `Analyze this IndyCar racing photograph.

` + subjectGate + `

If car_detected is false, return:
{"car_detected": false, "engine": null, "color": null, "numbers": []}

If a car IS the primary subject, extract information as JSON:
- car_detected: true
- numbers: Array of car numbers (look on sidepod, engine cover, or nose)
- engine: Engine manufacturer if visible from badging: Chevrolet or Honda.
  Look for the Chevrolet bowtie or Honda "H" logos. Omit if not clearly visible.
- color: Primary color(s) of the livery
{fuzzy_instruction}

IMPORTANT: IndyCar uses standardized Dallara chassis, so all cars share a
shape; identify by number and engine badging only. Do NOT guess the engine
manufacturer when badging is not visible.

Return ONLY valid JSON, no other text.`

const collegeSportsPrompt = `Analyze this college sports photograph.

Extract information as JSON:
- sport: The sport being played
- team: Team name if visible (on jerseys, field, etc.)
- colors: Team colors visible
- numbers: Jersey numbers visible
- action: Brief description of the action

Return ONLY valid JSON, no other text.`

var catalog = map[string]string{
	"racing-porsche":         porschePrompt,
	"racing-general":         generalPrompt,
	"racing-nascar":          nascarPrompt,
	"racing-imsa":            imsaPrompt,
	"racing-world-challenge": worldChallengePrompt,
	"racing-indycar":         indycarPrompt,
	"college-sports":         collegeSportsPrompt,
}

// profileOrder keeps listings stable for help text and validation errors.
var profileOrder = []string{
	"racing-porsche",
	"racing-general",
	"racing-nascar",
	"racing-imsa",
	"racing-world-challenge",
	"racing-indycar",
	"college-sports",
}

// Get returns the prompt for the given profile, with the fuzzy-number
// instruction inserted when requested.
func Get(profile string, fuzzyNumbers bool) (string, error) {
	template, ok := catalog[strings.ToLower(strings.TrimSpace(profile))]
	if !ok {
		return "", fmt.Errorf("unknown profile %q", profile)
	}
	instruction := ""
	if fuzzyNumbers {
		instruction = fuzzyNumberInstruction
	}
	return strings.ReplaceAll(template, fuzzyToken, instruction), nil
}

// AvailableProfiles returns the known profile names in a stable order.
func AvailableProfiles() []string {
	out := make([]string, len(profileOrder))
	copy(out, profileOrder)
	return out
}

// IsValidProfile reports whether the profile exists in the catalog.
func IsValidProfile(profile string) bool {
	_, ok := catalog[strings.ToLower(strings.TrimSpace(profile))]
	return ok
}

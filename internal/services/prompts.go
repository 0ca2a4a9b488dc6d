package services

import "fmt"

// CoverPrompts returns cover art prompt ideas for a genre. Unknown genres get
// the Pop set.
func CoverPrompts(genre, artist, album string) []string {
	switch genre {
	case "Hip Hop":
		return []string{
			fmt.Sprintf("Urban street art style album cover for '%s' by %s, bold graffiti elements, neon lighting, cityscape background", album, artist),
			fmt.Sprintf("Modern hip-hop album artwork featuring %s, geometric patterns, gold and black color scheme, professional photography style", artist),
			fmt.Sprintf("Street photography inspired cover for '%s', urban environment, dramatic lighting, contemporary hip-hop aesthetic", album),
		}
	case "R&B":
		return []string{
			fmt.Sprintf("Smooth R&B album cover for '%s' by %s, warm golden tones, intimate lighting, soulful aesthetic", album, artist),
			fmt.Sprintf("Contemporary R&B artwork featuring %s, silk textures, sunset colors, emotional depth", artist),
			fmt.Sprintf("Elegant R&B cover design for '%s', smooth gradients, romantic atmosphere, sophisticated styling", album),
		}
	case "Indie":
		return []string{
			fmt.Sprintf("Dreamy indie album cover for '%s' by %s, film photography aesthetic, vintage filters, artistic composition", album, artist),
			fmt.Sprintf("Alternative indie artwork featuring %s, ethereal lighting, natural elements, authentic storytelling", artist),
			fmt.Sprintf("Artistic indie cover design for '%s', retro colors, analog photography style, creative layout", album),
		}
	case "Rock":
		return []string{
			fmt.Sprintf("Dramatic rock album cover for '%s' by %s, bold typography, intense lighting, powerful imagery", album, artist),
			fmt.Sprintf("Heavy rock artwork featuring %s, industrial elements, dark atmosphere, raw energy", artist),
			fmt.Sprintf("Classic rock cover design for '%s', electric energy, stage lighting, rebellious spirit", album),
		}
	case "Electronic":
		return []string{
			fmt.Sprintf("Futuristic electronic album cover for '%s' by %s, neon colors, digital effects, cyberpunk aesthetic", album, artist),
			fmt.Sprintf("Modern electronic artwork featuring %s, holographic elements, bright colors, technological themes", artist),
			fmt.Sprintf("Synthwave electronic cover design for '%s', retro-futuristic style, electric blues and purples", album),
		}
	case "Jazz":
		return []string{
			fmt.Sprintf("Vintage jazz album cover for '%s' by %s, warm sepia tones, classic typography, timeless elegance", album, artist),
			fmt.Sprintf("Sophisticated jazz artwork featuring %s, noir atmosphere, golden age styling, musical instruments", artist),
			fmt.Sprintf("Classic jazz cover design for '%s', rich textures, vintage aesthetic, soulful composition", album),
		}
	default:
		return []string{
			fmt.Sprintf("Clean modern pop album cover for '%s' by %s, minimalist design, pastel colors, professional studio lighting", album, artist),
			fmt.Sprintf("Contemporary pop artwork featuring vibrant colors, geometric shapes, clean typography for %s", artist),
			fmt.Sprintf("Sleek pop music cover design for '%s', gradient backgrounds, modern aesthetic, commercial appeal", album),
		}
	}
}

func sceneIdeas(style, track string) []string {
	switch style {
	case "cyberpunk":
		return []string{
			fmt.Sprintf("Neon-lit cityscape with %s energy, holographic displays, rain-soaked streets", track),
			"Futuristic metropolis with purple and blue neon lights, flying cars, digital billboards",
			"Dark cyberpunk alley with glowing graffiti, steam rising, electric atmosphere",
			"High-tech laboratory with floating holograms, laser beams, synthwave aesthetics",
		}
	case "cinematic":
		return []string{
			fmt.Sprintf("Epic movie scene inspired by %s, dramatic lighting, wide cinematography", track),
			"Golden hour landscape with sweeping camera movements, atmospheric depth",
			"Moody film noir setting with shadows and light, vintage aesthetic",
			"Grand orchestral hall with spotlights, audience silhouettes, dramatic staging",
		}
	case "anime":
		return []string{
			fmt.Sprintf("Anime-style scene with %s theme, cherry blossoms, dramatic sky", track),
			"Japanese street scene with anime characters, neon signs, evening atmosphere",
			"Magical girl transformation sequence with sparkles and energy beams",
			"Hand-painted landscape with floating islands and mystical creatures",
		}
	case "fantasy":
		return []string{
			fmt.Sprintf("Enchanted forest with %s magic, glowing creatures, mystical atmosphere", track),
			"Medieval castle on floating island, dragons soaring, golden light rays",
			"Wizard's tower with spell effects, magical runes, swirling energy portals",
			"Fairy realm with luminescent plants, crystal formations, ethereal beings",
		}
	case "urban":
		return []string{
			fmt.Sprintf("Street art mural coming to life with %s energy, graffiti animation", track),
			"Urban rooftop with city skyline, street lights, hip-hop culture vibes",
			"Subway tunnel with colorful tags, breakdancers, underground scene",
			"Bridge at sunset with street performers, urban lifestyle",
		}
	default:
		return []string{
			fmt.Sprintf("Flowing abstract patterns synchronized to %s rhythm, vibrant colors", track),
			"Geometric shapes morphing and dancing, gradient backgrounds, particle effects",
			"Liquid metal formations with rainbow reflections, smooth transitions",
			"Kaleidoscopic patterns with pulsing energy, fractal designs, color explosions",
		}
	}
}

// ScenePrompts returns a scene prompt for a visual style and three
// alternatives. Extra user input is worked into the main prompt. Unknown
// styles get the abstract set.
func ScenePrompts(style, track, input string) (string, []string) {
	if track == "" {
		track = "the track"
	}
	ideas := sceneIdeas(style, track)
	if input != "" {
		return fmt.Sprintf("%s incorporating %s, professional video quality", ideas[0], input), ideas[1:]
	}
	return ideas[0] + ", professional video quality, smooth motion", ideas[1:]
}

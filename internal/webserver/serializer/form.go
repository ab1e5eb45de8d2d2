package serializer

import (
	"github.com/Sar-kit/tus2/internal/model"
)

// Forms returns the serialized form of the given models with their media.
func Forms(forms []*model.Form, media map[string][]*model.Media) []map[string]interface{} {
	sl := make([]map[string]interface{}, 0, len(forms))

	for _, form := range forms {
		sl = append(sl, Form(form, media[form.ID]))
	}

	return sl
}

// Form returns the serialized form of the given model.
func Form(form *model.Form, media []*model.Media) map[string]interface{} {
	return map[string]interface{}{
		"id":          form.ID,
		"title":       form.Title,
		"description": form.Description,
		"createdAt":   form.CreatedAt,
		"media":       MediaList(media),
	}
}

// MediaList returns the serialized form of the given models.
func MediaList(media []*model.Media) []map[string]interface{} {
	sl := make([]map[string]interface{}, 0, len(media))

	for _, m := range media {
		sl = append(sl, Media(m))
	}

	return sl
}

// Media returns the serialized form of the given model.
// The URL and the size are null until the upload completes.
func Media(media *model.Media) map[string]interface{} {
	var url interface{}
	var size interface{}
	if media.Status == model.MediaStatusComplete {
		url = media.URL
		size = media.Size
	} else if media.DeclaredSize > 0 {
		size = media.DeclaredSize
	}

	return map[string]interface{}{
		"id":        media.ID,
		"fileName":  media.FileName,
		"mimeType":  media.MimeType,
		"status":    media.Status,
		"url":       url,
		"size":      size,
		"createdAt": media.CreatedAt,
		"updatedAt": media.UpdatedAt,
	}
}

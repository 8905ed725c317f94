package handlers

import (
	"net/http"
	"sort"
	"strings"

	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/maruel/natural"
	"gorm.io/gorm"
)

type categoryForm struct {
	Name        string `form:"name" binding:"required,max=100"`
	Description string `form:"description"`
}

func liveCategories(c *gin.Context) ([]models.Category, error) {
	var cats []models.Category
	if err := database.DB.WithContext(c.Request.Context()).Find(&cats).Error; err != nil {
		return nil, err
	}
	sort.SliceStable(cats, func(i, j int) bool { return natural.Less(cats[i].Name, cats[j].Name) })
	return cats, nil
}

func ListCategories(c *gin.Context) {
	cats, err := liveCategories(c)
	if err != nil {
		fail(c, "categories", err)
		return
	}

	var usage []struct {
		CategoryID uint
		N          int64
	}
	database.DB.WithContext(c.Request.Context()).Model(&models.Defect{}).
		Select("category_id, COUNT(*) AS n").
		Where("category_id IS NOT NULL").
		Group("category_id").
		Scan(&usage)
	used := map[uint]int64{}
	for _, u := range usage {
		used[u.CategoryID] = u.N
	}

	render(c, http.StatusOK, "categories_list.html", gin.H{
		"categories": cats,
		"used":       used,
	})
}

func renderCategoryForm(c *gin.Context, status int, cat models.Category, msg string) {
	render(c, status, "category_form.html", gin.H{
		"category": cat,
		"isNew":    cat.ID == 0,
		"error":    msg,
	})
}

func categoryTaken(tx *gorm.DB, name string, exceptID uint) bool {
	var n int64
	tx.Model(&models.Category{}).
		Where("LOWER(name) = LOWER(?) AND id <> ?", name, exceptID).
		Count(&n)
	return n > 0
}

func ShowNewCategory(c *gin.Context) {
	renderCategoryForm(c, http.StatusOK, models.Category{}, "")
}

func CreateCategory(c *gin.Context) {
	var form categoryForm
	if err := c.ShouldBind(&form); err != nil {
		renderCategoryForm(c, http.StatusBadRequest, models.Category{Name: form.Name, Description: form.Description}, middleware.TranslateValidationError(err))
		return
	}

	cat := models.Category{
		Name:        strings.TrimSpace(form.Name),
		Description: strings.TrimSpace(form.Description),
	}
	if categoryTaken(database.DB.WithContext(c.Request.Context()), cat.Name, 0) {
		renderCategoryForm(c, http.StatusBadRequest, cat, "Category already exists")
		return
	}

	actor := middleware.Actor(c)
	cat.CreatedBy = actor.ID
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Create(&cat).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "category", EntityID: cat.ID, Action: "create", Details: cat.Name, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "categories", err)
		return
	}

	flash(c, "Category created")
	c.Redirect(http.StatusFound, "/categories")
}

func loadCategory(c *gin.Context) (*models.Category, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	var cat models.Category
	if err := database.DB.WithContext(c.Request.Context()).First(&cat, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			err = database.ErrNotFound
		}
		fail(c, "categories", err)
		return nil, false
	}
	return &cat, true
}

func ShowEditCategory(c *gin.Context) {
	cat, ok := loadCategory(c)
	if !ok {
		return
	}
	renderCategoryForm(c, http.StatusOK, *cat, "")
}

func UpdateCategory(c *gin.Context) {
	cat, ok := loadCategory(c)
	if !ok {
		return
	}

	var form categoryForm
	if err := c.ShouldBind(&form); err != nil {
		renderCategoryForm(c, http.StatusBadRequest, *cat, middleware.TranslateValidationError(err))
		return
	}
	cat.Name = strings.TrimSpace(form.Name)
	cat.Description = strings.TrimSpace(form.Description)

	if categoryTaken(database.DB.WithContext(c.Request.Context()), cat.Name, cat.ID) {
		renderCategoryForm(c, http.StatusBadRequest, *cat, "Category already exists")
		return
	}

	actor := middleware.Actor(c)
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Model(&models.Category{}).Where("id = ?", cat.ID).Updates(map[string]interface{}{
			"name":        cat.Name,
			"description": cat.Description,
		}).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "category", EntityID: cat.ID, Action: "update", Details: cat.Name, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "categories", err)
		return
	}

	flash(c, "Category saved")
	c.Redirect(http.StatusFound, "/categories")
}

var categoryDeletion = database.SoftDeletePolicy[models.Category]{Entity: "category"}

// DeleteCategory soft deletes the category. Defects keep their category_id.
func DeleteCategory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := softDelete(c, categoryDeletion, id, strings.TrimSpace(c.PostForm("reason"))); err != nil {
		fail(c, "categories", err)
		return
	}
	flash(c, "Category deleted")
	c.Redirect(http.StatusFound, "/categories")
}
